package service

import "errors"

var (
	// ErrInvalidOwnerID is returned when owner ID is empty.
	ErrInvalidOwnerID = errors.New("invalid owner id")

	// ErrInvalidExternalID is returned when a payment attempt ID is empty.
	ErrInvalidExternalID = errors.New("invalid payment id")

	// ErrInvalidPlanID is returned when plan ID is empty.
	ErrInvalidPlanID = errors.New("invalid plan id")

	// ErrPlanNotFound is returned when the plan does not exist or is not on sale.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidPaymentFilter is returned when a history query has a bad state,
	// date range or page.
	ErrInvalidPaymentFilter = errors.New("invalid payment filter")

	// ErrGatewayUnavailable is returned when the payment provider could not be
	// reached or answered with a server error. The request may be retried.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected is returned when the payment provider refused a request.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrAttemptNotCompleted is returned when an operation needs a confirmed payment.
	ErrAttemptNotCompleted = errors.New("payment attempt is not completed")

	// ErrAttemptBusy is returned when another request holds the payment attempt.
	ErrAttemptBusy = errors.New("payment attempt is being processed")

	// ErrInvalidRefundAmount is returned when a refund exceeds the paid amount.
	ErrInvalidRefundAmount = errors.New("invalid refund amount")

	// ErrAmountMismatch is returned when the provider settled a different amount
	// than the attempt was created for.
	ErrAmountMismatch = errors.New("settled amount does not match payment attempt")

	// ErrMissingTransactionID is returned when the provider reports completion
	// without a transaction ID.
	ErrMissingTransactionID = errors.New("completed payment has no transaction id")
)
