package payment

import "errors"

var (
	// ErrNotFound is returned when the payment does not exist.
	ErrNotFound = errors.New("payment: not found")
	// ErrInvalidTransition is returned when the requested action is not
	// defined for the payment's current state.
	ErrInvalidTransition = errors.New("payment: invalid transition")
	// ErrStateConflict is returned when another actor changed the state
	// between read and write. The caller should re-read and retry.
	ErrStateConflict = errors.New("payment: state changed concurrently")
	// ErrUnauthorized is returned when the actor lacks the capability the
	// action requires.
	ErrUnauthorized = errors.New("payment: actor not authorized for action")
	// ErrSegregationOfDuties is returned when the submitter attempts to
	// approve their own payment.
	ErrSegregationOfDuties = errors.New("payment: submitter cannot approve own payment")
	// ErrHostPostFailed is returned when the accounting host rejected the
	// posting. The approval record is preserved for retry.
	ErrHostPostFailed = errors.New("payment: host posting failed")

	// Validation failures surfaced at submit time.
	ErrInvalidAmount       = errors.New("payment: amount must not be negative")
	ErrInvalidCurrency     = errors.New("payment: currency must be a three-letter uppercase code")
	ErrMissingCounterparty = errors.New("payment: outbound payment requires a counterparty")
	ErrInvalidKind         = errors.New("payment: unknown payment kind")
	ErrInvalidPriority     = errors.New("payment: unknown priority")
	ErrSignatureRequired   = errors.New("payment: signature required at this stage")
	ErrReasonRequired      = errors.New("payment: a reason comment is required")

	// Bulk operation failures.
	ErrBulkDisabled    = errors.New("payment: bulk approval is disabled by configuration")
	ErrBulkCapExceeded = errors.New("payment: bulk request exceeds the configured cap")
)
