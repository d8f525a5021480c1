package domain

import "errors"

var (
	ErrValidation            = errors.New("validation_error")
	ErrInvalidTransactionID  = errors.New("invalid_transaction_id")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidOccurredAt     = errors.New("invalid_occurred_at")
	ErrInvalidEnvironment    = errors.New("invalid_environment")
	ErrInvalidResolution     = errors.New("invalid_resolution")
	ErrAuthentication        = errors.New("authentication_failed")
	ErrPersistence           = errors.New("persistence_error")
	ErrNotFound              = errors.New("not_found")
	ErrAlreadyResolved       = errors.New("already_resolved")
	ErrLoanClientMismatch    = errors.New("loan_client_mismatch")
	ErrUnreachableTransition = errors.New("unreachable_status_transition")
)

// IsValidation reports whether err should surface as a client error.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidTransactionID),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidOccurredAt),
		errors.Is(err, ErrInvalidEnvironment),
		errors.Is(err, ErrInvalidResolution):
		return true
	default:
		return false
	}
}
