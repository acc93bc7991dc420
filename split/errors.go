/*
errors.go - Error types shared by the ledger and aggregation layers

ERROR CATEGORIES:
  1. Validation errors - bad percentage or date input
  2. Not-found errors  - missing user/service during stats resolution
  3. Transaction errors - commit failure during a history rewrite
  4. Availability errors - backing store unreachable

PROPAGATION POLICY:
  Errors are never swallowed. A transaction error means the rewrite was
  rolled back in full; an availability error fails the whole request
  rather than letting stats silently degrade to default percentages.
*/
package split

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPercentage is returned for percentage input outside [0,100].
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")

	// ErrInvalidDate is returned for malformed effective dates.
	ErrInvalidDate = errors.New("invalid date")

	// ErrNotFound is returned when a referenced user or service doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrTransactionFailed is returned when a history rewrite could not be
	// committed. The store is guaranteed to have rolled back all steps.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers must fail the request; retrying silently after a
	// partial ledger mutation risks double-application.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransactionError carries the underlying cause of a failed rewrite.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction rolled back: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return ErrTransactionFailed }

// Cause exposes the store-level error for logging.
func (e *TransactionError) Cause() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPercentage) || errors.Is(err, ErrInvalidDate)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
