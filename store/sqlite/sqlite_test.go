package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/auth"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/split"
	"github.com/warp/earnings-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createEmployee(t *testing.T, store *sqlite.Store, username string) auth.User {
	t.Helper()
	u, err := auth.NewUser(username, "pw", auth.RoleEmployee)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func serviceFor(owner uuid.UUID, amount string, d split.Date) earnings.ServiceRecord {
	return earnings.ServiceRecord{
		ID:          uuid.New(),
		UserID:      owner,
		ServiceName: "haircut",
		Client:      "walk-in",
		Time:        "2:30 PM",
		Earnings:    decimal.RequireFromString(amount),
		Date:        d,
		CreatedAt:   time.Now(),
	}
}

// =============================================================================
// PERCENTAGE HISTORY THROUGH THE REAL STORE
// =============================================================================

func TestLedgerOverSQLite_RetroactivityScenario(t *testing.T) {
	// The full rewrite path against real SQL, not the memory store.

	store := newTestStore(t)
	ledger := split.NewLedger(store)
	ctx := context.Background()

	_, err := ledger.SetPercentage(ctx, decimal.NewFromInt(40), split.NewDate(2024, time.January, 1), "admin-1")
	require.NoError(t, err)
	_, err = ledger.SetPercentage(ctx, decimal.NewFromInt(50), split.NewDate(2024, time.July, 1), "admin-1")
	require.NoError(t, err)
	_, err = ledger.SetPercentage(ctx, decimal.NewFromInt(60), split.NewDate(2024, time.July, 1), "admin-1")
	require.NoError(t, err)

	before, err := ledger.Resolve(ctx, split.NewDate(2024, time.June, 15))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.4").Equal(before))

	after, err := ledger.Resolve(ctx, split.NewDate(2024, time.August, 1))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.6").Equal(after))

	// Exactly two intervals remain: [Jan 1, Jun 30]=0.4 and [Jul 1, open]=0.6.
	ivs, err := store.Intervals(ctx)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	require.NotNil(t, ivs[0].End)
	assert.True(t, ivs[0].End.Equal(split.NewDate(2024, time.June, 30)))
	assert.True(t, ivs[1].Open())

	cur, err := ledger.Current(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.6").Equal(cur))
}

func TestWithTx_ErrorRollsBackAllSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx split.HistoryTx) error {
		iv := split.Interval{
			ID:         uuid.New(),
			Percentage: decimal.RequireFromString("0.3"),
			Start:      split.NewDate(2024, time.January, 1),
		}
		if err := tx.Insert(ctx, iv); err != nil {
			return err
		}
		if err := tx.SetCurrent(ctx, iv.Percentage); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ivs, err := store.Intervals(ctx)
	require.NoError(t, err)
	assert.Empty(t, ivs, "insert must not survive the rollback")

	_, ok, err := store.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "current cell must not survive the rollback")
}

func TestActiveAt_EmptyHistory_ReturnsNil(t *testing.T) {
	store := newTestStore(t)

	iv, err := store.ActiveAt(context.Background(), split.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.Nil(t, iv)
}

// =============================================================================
// SERVICES
// =============================================================================

func TestServices_DateWindowFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := createEmployee(t, store, "alice")

	require.NoError(t, store.CreateService(ctx, serviceFor(alice.ID, "100", split.NewDate(2024, time.May, 1))))
	require.NoError(t, store.CreateService(ctx, serviceFor(alice.ID, "200", split.NewDate(2024, time.June, 1))))
	require.NoError(t, store.CreateService(ctx, serviceFor(alice.ID, "300", split.NewDate(2024, time.July, 1))))

	from := split.NewDate(2024, time.May, 15)
	to := split.NewDate(2024, time.June, 15)
	rows, err := store.Services(ctx, &from, &to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, decimal.RequireFromString("200").Equal(rows[0].Earnings))
	assert.Equal(t, "alice", rows[0].Username)
}

func TestDeleteService_OwnerScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := createEmployee(t, store, "alice")
	bob := createEmployee(t, store, "bob")

	rec := serviceFor(alice.ID, "50", split.NewDate(2024, time.June, 1))
	require.NoError(t, store.CreateService(ctx, rec))

	// Bob cannot delete Alice's record.
	deleted, err := store.DeleteService(ctx, rec.ID, &bob.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	// Admin (nil owner) can.
	deleted, err = store.DeleteService(ctx, rec.ID, nil)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestUpdateServiceComment_OnlyOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := createEmployee(t, store, "alice")
	bob := createEmployee(t, store, "bob")

	rec := serviceFor(alice.ID, "50", split.NewDate(2024, time.June, 1))
	require.NoError(t, store.CreateService(ctx, rec))

	ok, err := store.UpdateServiceComment(ctx, rec.ID, bob.ID, "not mine")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.UpdateServiceComment(ctx, rec.ID, alice.ID, "cash tip included")
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := store.ServicesByUser(ctx, alice.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cash tip included", rows[0].Comment)
}

// =============================================================================
// USERS & TOKENS
// =============================================================================

func TestCreateUser_DuplicateUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createEmployee(t, store, "alice")
	dup, err := auth.NewUser("alice", "other", auth.RoleEmployee)
	require.NoError(t, err)
	err = store.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, sqlite.ErrUsernameTaken)
}

func TestEmployees_ExcludesAdmins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	admin, err := auth.NewUser("boss", "pw", auth.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, admin))
	createEmployee(t, store, "zoe")
	createEmployee(t, store, "alice")

	emps, err := store.Employees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 2)
	assert.Equal(t, "alice", emps[0].Username, "ordered by username")
	assert.Equal(t, "zoe", emps[1].Username)
}

func TestRefreshTokens_RotationAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := createEmployee(t, store, "alice")

	rt, err := auth.NewRefreshToken(alice.ID, 30*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SaveRefreshToken(ctx, rt))

	found, err := store.RefreshTokenByValue(ctx, rt.Token)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, alice.ID, found.UserID)

	require.NoError(t, store.RevokeRefreshToken(ctx, rt.Token))
	found, err = store.RefreshTokenByValue(ctx, rt.Token)
	require.NoError(t, err)
	assert.Nil(t, found, "revoked token is no longer valid")

	deleted, err := store.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
