/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error kinds in one place. Store and gateway implementations wrap
  their failures so that callers can classify them with errors.Is().

ERROR CATEGORIES:
  1. Business errors - not found, already paid, invalid input
  2. Webhook errors  - bad signature, malformed event
  3. Transient errors - gateway or store unavailable (retriable)

HTTP MAPPING (see api/handlers.go):
  ErrNotFound           404
  ErrConflict           409 (ErrAlreadyPaid is a conflict)
  ErrVerification       400 (gateway re-delivers)
  ErrInvalidInput       400
  ErrGatewayUnavailable 503
  ErrStoreUnavailable   503
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an invoice, house or transaction is missing
	// or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness or state rule.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyPaid is returned when a payment is requested for a settled invoice.
	ErrAlreadyPaid = fmt.Errorf("%w: invoice already paid", ErrConflict)

	// ErrVerification is returned when a webhook signature does not verify.
	ErrVerification = errors.New("webhook verification failed")

	// ErrMalformedEvent is returned for a verified event that cannot be applied.
	// Redelivery will not fix it.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGatewayUnavailable is returned when the payment gateway fails or times out.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrStoreUnavailable is returned when the ledger store fails or times out.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StoreError wraps an unexpected storage failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// NewStoreError wraps err as a StoreError. A nil err stays nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// GatewayError wraps a failed payment gateway call.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	return []error{ErrGatewayUnavailable, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrVerification)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrVerification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
