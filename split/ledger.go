/*
ledger.go - Percentage resolution and history rewrites

PURPOSE:
  The Ledger is the single owner of the percentage history. All writes
  funnel through SetPercentage; Resolve and Current are read-only and
  safe to call concurrently.

THE REWRITE ALGORITHM (SetPercentage):
  Performed as one atomic unit inside a store transaction:
    1. Delete every interval starting on or after the effective date.
       Supersedes any previously scheduled future change, which makes a
       mistaken change correctable by simply issuing another one.
    2. Close the interval still active the day before the effective date
       by setting its end to effective-1. No-op on first-ever setting.
    3. Insert the new open-ended interval at the effective date.
    4. Refresh the cached current-value cell.

  A failure at any step rolls back all prior steps. Concurrent
  SetPercentage calls are serialized; without that, two interleaved
  rewrites could commit two open-ended intervals.

RETROACTIVITY:
  An effective date in the past is legal and intentionally changes the
  resolved percentage for services already recorded on or after it.
  This is a product decision, not a bug.

EXAMPLE:
  History: [2024-01-01, 2024-06-30]=0.40, [2024-07-01, open]=0.50
  SetPercentage(60, 2024-07-01):
    - deletes the 2024-07-01 interval (start >= effective)
    - the 0.40 interval already ends 2024-06-30, close is a no-op
    - inserts [2024-07-01, open]=0.60
  Resolve(2024-06-15) = 0.40, Resolve(2024-08-01) = 0.60
*/
package split

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ledger resolves percentages by date and applies history rewrites.
type Ledger struct {
	store HistoryStore

	// Serializes SetPercentage. Resolve/Current take no lock; they read
	// committed state only, which the store transaction guarantees is
	// never partial.
	mu sync.Mutex
}

// NewLedger creates a ledger over the given store.
func NewLedger(store HistoryStore) *Ledger {
	return &Ledger{store: store}
}

// Resolve returns the employee share in force on date d as a fraction in
// [0,1]. Dates covered by no interval resolve to DefaultPercentage.
// Deterministic and side-effect-free.
func (l *Ledger) Resolve(ctx context.Context, d Date) (decimal.Decimal, error) {
	iv, err := l.store.ActiveAt(ctx, d)
	if err != nil {
		return decimal.Zero, err
	}
	if iv == nil {
		return DefaultPercentage, nil
	}
	return iv.Percentage, nil
}

// Current returns the cached current percentage as a fraction in [0,1].
// O(1): reads the current-value cell, not the interval set. Equals
// Resolve(Today()) after any committed SetPercentage.
func (l *Ledger) Current(ctx context.Context) (decimal.Decimal, error) {
	pct, ok, err := l.store.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return DefaultPercentage, nil
	}
	return pct, nil
}

// SetPercentage installs a new employee share effective from the given
// date onward. pct is on the 0-100 display scale and is clamped into
// range; a zero-value effective date defaults to today. Returns the new
// current percentage as a fraction.
func (l *Ledger) SetPercentage(ctx context.Context, pct decimal.Decimal, effective Date, actor string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if effective.IsZero() {
		effective = Today()
	}
	fraction := clampPercent(pct).Div(hundred)

	err := l.store.WithTx(ctx, func(tx HistoryTx) error {
		if err := tx.DeleteFrom(ctx, effective); err != nil {
			return err
		}
		if err := tx.CloseActiveAt(ctx, effective.AddDays(-1)); err != nil {
			return err
		}
		iv := Interval{
			ID:         uuid.New(),
			Percentage: fraction,
			Start:      effective,
			End:        nil,
			CreatedBy:  actor,
		}
		if err := tx.Insert(ctx, iv); err != nil {
			return err
		}
		return tx.SetCurrent(ctx, fraction)
	})
	if err != nil {
		return decimal.Zero, &TransactionError{Op: "set percentage", Err: err}
	}

	return fraction, nil
}

func clampPercent(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
