/*
store.go - Persistence interface for percentage history

PURPOSE:
  Defines the interface between the ledger and the database. The ledger
  owns the partition invariant; the store provides the primitive
  operations the rewrite is composed of, plus a transaction boundary so
  the rewrite is all-or-nothing.

TRANSACTION CONTRACT:
  WithTx executes fn against a transactional view of the history. If fn
  returns an error (or the context is canceled mid-flight), every write
  made inside fn is rolled back. Readers outside the transaction never
  observe intermediate state.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - split/store:  In-memory store for tests

SEE ALSO:
  - ledger.go: The only caller of the writing side
*/
package split

import (
	"context"

	"github.com/shopspring/decimal"
)

// HistoryStore persists percentage intervals and the cached current value.
type HistoryStore interface {
	// ActiveAt returns the interval covering date d, or nil if no interval
	// covers it. Read-only.
	ActiveAt(ctx context.Context, d Date) (*Interval, error)

	// Intervals returns all intervals ordered by start date. Read-only.
	Intervals(ctx context.Context) ([]Interval, error)

	// Current returns the cached current percentage. ok is false when the
	// cell has never been written (i.e., no SetPercentage has committed).
	Current(ctx context.Context) (pct decimal.Decimal, ok bool, err error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(HistoryTx) error) error
}

// HistoryTx is the transactional write surface used by SetPercentage.
// All four operations apply to the same uncommitted view.
type HistoryTx interface {
	// DeleteFrom removes every interval whose start date is >= start.
	DeleteFrom(ctx context.Context, start Date) error

	// CloseActiveAt sets end as the end date of the interval covering end
	// (open-ended or not). No-op when no interval covers end.
	CloseActiveAt(ctx context.Context, end Date) error

	// Insert adds a new interval.
	Insert(ctx context.Context, iv Interval) error

	// SetCurrent updates the cached current-percentage cell.
	SetCurrent(ctx context.Context, pct decimal.Decimal) error
}
