// Package store provides HistoryStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/split"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	intervals []split.Interval
	current   decimal.Decimal
	hasValue  bool

	// FailWrites makes every transaction fail after applying its steps,
	// to exercise rollback behavior in tests.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ActiveAt(_ context.Context, d split.Date) (*split.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.intervals {
		if m.intervals[i].Contains(d) {
			iv := m.intervals[i]
			return &iv, nil
		}
	}
	return nil, nil
}

func (m *Memory) Intervals(_ context.Context) ([]split.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]split.Interval, len(m.intervals))
	copy(out, m.intervals)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) Current(_ context.Context) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.hasValue, nil
}

// WithTx applies fn to a shadow copy and swaps it in on success, so a
// failed transaction leaves the committed state untouched.
func (m *Memory) WithTx(ctx context.Context, fn func(split.HistoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	shadow := &memoryTx{
		intervals: append([]split.Interval(nil), m.intervals...),
		current:   m.current,
		hasValue:  m.hasValue,
	}
	if err := fn(shadow); err != nil {
		return err
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.intervals = shadow.intervals
	m.current = shadow.current
	m.hasValue = shadow.hasValue
	return nil
}

type memoryTx struct {
	intervals []split.Interval
	current   decimal.Decimal
	hasValue  bool
}

func (tx *memoryTx) DeleteFrom(_ context.Context, start split.Date) error {
	kept := tx.intervals[:0]
	for _, iv := range tx.intervals {
		if iv.Start.Before(start) {
			kept = append(kept, iv)
		}
	}
	tx.intervals = kept
	return nil
}

func (tx *memoryTx) CloseActiveAt(_ context.Context, end split.Date) error {
	for i := range tx.intervals {
		if tx.intervals[i].Contains(end) {
			e := end
			tx.intervals[i].End = &e
			return nil
		}
	}
	return nil
}

func (tx *memoryTx) Insert(_ context.Context, iv split.Interval) error {
	tx.intervals = append(tx.intervals, iv)
	return nil
}

func (tx *memoryTx) SetCurrent(_ context.Context, pct decimal.Decimal) error {
	tx.current = pct
	tx.hasValue = true
	return nil
}
