/*
errors.go - Centralized error types for the sale ledger

PURPOSE:
  All error types in one place. Substrates and the HTTP layer match on
  these with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Arithmetic errors - totals do not fit in 128 bits
  2. Lookup errors     - unknown sale identifiers
  3. Input errors      - malformed or oversized requests
  4. Storage errors    - any substrate failure (always fatal to the call)
  5. Policy errors     - rate change refused by the authorizer
  6. Conflict errors   - idempotency key bound to a different sale

ATOMICITY:
  Every error returned by a mutating operation means nothing was written.

SEE ALSO:
  - ledger.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package sales

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrArithmeticOverflow is returned when a sum or the tax product
	// exceeds the unsigned 128-bit range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrSaleNotFound is returned for sale identifiers >= sale count.
	ErrSaleNotFound = fmt.Errorf("sale %w", ErrNotFound)

	// ErrInvalidInput is returned when the request itself is rejected
	// (malformed values, too many items).
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageFailure is returned when the substrate fails.
	ErrStorageFailure = errors.New("storage failure")

	// ErrUnauthorized is returned when the rate authorizer refuses a change.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a buyer or item list different from the sale it recorded.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different sale")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverflowError names the computation that overflowed.
type OverflowError struct {
	Op     string // "sum", "tax", "total"
	SaleID SaleID // identifier the sale would have received
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("arithmetic overflow computing %s for sale %d", e.Op, e.SaleID)
}

func (e *OverflowError) Unwrap() error {
	return ErrArithmeticOverflow
}

// StorageError wraps a substrate failure with the failing operation.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrArithmeticOverflow) ||
		errors.Is(err, ErrIdempotencyConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
