/*
scheduler.go - Expired refresh token sweeper

PURPOSE:
  Periodically deletes expired and revoked refresh tokens so the
  refresh_tokens table does not grow without bound.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Sweeps once immediately on start, then on every tick
  - Stop blocks until the goroutine has exited

USAGE:
  sweeper := NewTokenSweeper(store, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - store/sqlite/sqlite.go: DeleteExpiredTokens
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/earnings-engine/store/sqlite"
)

// TokenSweeper removes stale refresh tokens in the background.
type TokenSweeper struct {
	Store         *sqlite.Store
	Logger        *zap.Logger
	SweepInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTokenSweeper creates a sweeper with the default hourly interval.
func NewTokenSweeper(store *sqlite.Store, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{
		Store:         store,
		Logger:        logger,
		SweepInterval: 1 * time.Hour,
		stop:          make(chan struct{}),
	}
}

// Start begins the sweeper.
func (ts *TokenSweeper) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.ticker = time.NewTicker(ts.SweepInterval)
	ts.wg.Add(1)

	go ts.run()

	ts.Logger.Info("token sweeper started", zap.Duration("interval", ts.SweepInterval))
}

// Stop stops the sweeper and waits for the current sweep to finish.
func (ts *TokenSweeper) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker != nil {
		ts.ticker.Stop()
		close(ts.stop)
		ts.wg.Wait()
		ts.Logger.Info("token sweeper stopped")
	}
}

func (ts *TokenSweeper) run() {
	defer ts.wg.Done()

	// Sweep immediately on start
	ts.sweep()

	for {
		select {
		case <-ts.ticker.C:
			ts.sweep()
		case <-ts.stop:
			return
		}
	}
}

func (ts *TokenSweeper) sweep() {
	removed, err := ts.Store.DeleteExpiredTokens(context.Background())
	if err != nil {
		ts.Logger.Error("token sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		ts.Logger.Info("swept refresh tokens", zap.Int64("removed", removed))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ts *TokenSweeper) RunNow() {
	ts.sweep()
}
