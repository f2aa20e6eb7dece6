package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork means the provider could not be reached or did not answer in time.
	// The payment state is unknown.
	ErrNetwork = errors.New("payment gateway unreachable")

	// ErrProtocol means the provider answered, but not with a usable payload
	// (non-2xx status or malformed body).
	ErrProtocol = errors.New("payment gateway protocol error")

	// ErrInvalidReference is returned when a lookup is requested without a provider reference.
	ErrInvalidReference = errors.New("provider reference is required")
)

// Error describes a failed call to the provider.
type Error struct {
	Kind       error // ErrNetwork or ErrProtocol
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

func protocolError(op string, statusCode int, body []byte, err error) *Error {
	return &Error{Kind: ErrProtocol, Op: op, StatusCode: statusCode, Body: body, Err: err}
}

// IsRetryable reports whether a failed call may succeed if repeated:
// network failures, provider 5xx responses and rate limiting.
func IsRetryable(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return false
	}
	if errors.Is(gwErr.Kind, ErrNetwork) {
		return true
	}
	return gwErr.StatusCode == http.StatusTooManyRequests || gwErr.StatusCode >= http.StatusInternalServerError
}
