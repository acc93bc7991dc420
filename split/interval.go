/*
Package split implements the revenue-split percentage history ledger.

PURPOSE:
  Tracks the employee/business revenue-share percentage over time as a set
  of date intervals. When an admin changes the percentage effective from a
  given date, services recorded under earlier percentages keep resolving to
  their historical value; only dates from the effective date forward pick
  up the new value.

KEY CONCEPTS:
  - Interval: a contiguous date range over which exactly one percentage
    value is in force. At most one interval is open-ended (the current one).
  - Resolution: Resolve(date) finds the interval covering that date and
    returns its percentage; dates covered by no interval fall back to the
    documented default of 0.5.
  - Rewrite semantics: SetPercentage deletes every interval starting on or
    after the effective date before inserting the new open interval. A
    future-dated change can therefore be undone by issuing another change
    with the same or an earlier effective date.

CRITICAL INVARIANTS:
  1. PARTITION: stored intervals never overlap, and after the earliest
     start there are no gaps.
  2. SINGLE OPEN END: at most one interval has a null end date.
  3. ATOMICITY: SetPercentage's rewrite is a single transaction; readers
     never observe an intermediate state.

PRECISION:
  Percentages are decimal.Decimal fractions in [0,1]. No float arithmetic
  anywhere near money.

SEE ALSO:
  - ledger.go: Resolve/SetPercentage/Current operations
  - store.go: Persistence interface the ledger drives
  - store/memory.go: In-memory store for tests
*/
package split

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPercentage is the employee share used for dates not covered by
// any interval (including a freshly initialized system with an empty
// history). 50/50 split.
var DefaultPercentage = decimal.New(5, -1)

// Interval is one entry of the percentage history: Percentage is in force
// for every date in [Start, End], both inclusive. A nil End means the
// interval is open-ended and applies indefinitely until superseded.
type Interval struct {
	ID         uuid.UUID
	Percentage decimal.Decimal // employee share as a fraction in [0,1]
	Start      Date
	End        *Date
	CreatedBy  string // actor who installed the interval
}

// Open reports whether the interval has no end date yet.
func (iv Interval) Open() bool {
	return iv.End == nil
}

// Contains reports whether date d falls inside the interval.
func (iv Interval) Contains(d Date) bool {
	if d.Before(iv.Start) {
		return false
	}
	return iv.End == nil || d.BeforeOrEqual(*iv.End)
}
