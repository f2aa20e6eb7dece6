package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStateConflict is returned when a compare-and-set transition finds the
	// attempt in a different state than expected.
	ErrStateConflict = errors.New("payment attempt state changed concurrently")

	// ErrDuplicateProviderReference is returned when a provider reference is
	// already claimed by another payment attempt.
	ErrDuplicateProviderReference = errors.New("provider reference already assigned")

	// ErrDuplicateExternalID is returned when an external ID is reused.
	ErrDuplicateExternalID = errors.New("external id already exists")
)
