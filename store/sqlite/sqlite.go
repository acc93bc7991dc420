/*
Package sqlite provides the SQLite-backed store for the earnings backend.

PURPOSE:
  Implements all persistence surfaces against one database:
  - split.HistoryStore: percentage intervals + current-value cell
  - service records (create, list, delete, comment updates)
  - users and refresh tokens

KEY TABLES:
  percentage_history: interval set keyed by start_date (unique), nullable
                      end_date; the split ledger's partition invariant
                      lives here
  settings:           single current-percentage cell for O(1) reads
  services:           billable service records, owned by users
  users:              accounts with role and bcrypt hash
  refresh_tokens:     server-side refresh tokens with revocation

TRANSACTIONS:
  WithTx wraps the percentage rewrite in BEGIN/COMMIT; any error (or a
  canceled context) rolls back every step. Readers see only committed
  state.

DATE STORAGE:
  Calendar dates are stored as ISO "2006-01-02" strings, which compare
  correctly as text. Amounts and percentages are stored as decimal
  strings, never floats.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WAL mode, so readers don't
  block each other and writes are serialized.

USAGE:
  st, err := sqlite.New("./data/earnings.db")
  ...
  ledger := split.NewLedger(st)

SEE ALSO:
  - split/store.go: Interface definitions
  - split/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/auth"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/split"
)

// ErrUsernameTaken is returned when creating a user with a duplicate username.
var ErrUsernameTaken = errors.New("username already taken")

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user
		ON refresh_tokens(user_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires
		ON refresh_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		service_name TEXT NOT NULL,
		client TEXT,
		time TEXT,
		earnings TEXT NOT NULL,
		date TEXT NOT NULL,
		comment TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_services_user
		ON services(user_id);
	-- Date-window filters and aggregation loads (hot path)
	CREATE INDEX IF NOT EXISTS idx_services_date
		ON services(date);

	-- Percentage history: the interval set the split ledger maintains.
	-- start_date is unique: rewrites replace same-start intervals rather
	-- than duplicating them.
	CREATE TABLE IF NOT EXISTS percentage_history (
		id TEXT PRIMARY KEY,
		percentage TEXT NOT NULL,
		start_date TEXT NOT NULL UNIQUE,
		end_date TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_percentage_history_start
		ON percentage_history(start_date DESC);

	-- Single-row current-value cell for O(1) current percentage reads.
	CREATE TABLE IF NOT EXISTS settings (
		setting_key TEXT PRIMARY KEY,
		setting_value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERCENTAGE HISTORY (split.HistoryStore interface)
// =============================================================================

const currentPercentageKey = "employee_percentage"

// ActiveAt returns the interval covering date d, nil when uncovered.
func (s *Store) ActiveAt(ctx context.Context, d split.Date) (*split.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, percentage, start_date, end_date, created_by
		FROM percentage_history
		WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, d.String(), d.String())
	iv, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active interval: %w", err)
	}
	return &iv, nil
}

// Intervals returns the whole history ordered by start date.
func (s *Store) Intervals(ctx context.Context) ([]split.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, percentage, start_date, end_date, created_by
		FROM percentage_history
		ORDER BY start_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}
	defer rows.Close()

	var out []split.Interval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// Current reads the cached current percentage cell.
func (s *Store) Current(ctx context.Context) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT setting_value FROM settings WHERE setting_key = ?",
		currentPercentageKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read current percentage: %w", err)
	}

	pct, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt current percentage %q: %w", value, err)
	}
	return pct, true, nil
}

// WithTx runs fn inside a database transaction. Rolls back on error or
// context cancellation, commits otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(split.HistoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&historyTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// historyTx is the transactional write surface for the percentage rewrite.
type historyTx struct {
	tx *sql.Tx
}

func (h *historyTx) DeleteFrom(ctx context.Context, start split.Date) error {
	_, err := h.tx.ExecContext(ctx,
		"DELETE FROM percentage_history WHERE start_date >= ?",
		start.String(),
	)
	return err
}

func (h *historyTx) CloseActiveAt(ctx context.Context, end split.Date) error {
	_, err := h.tx.ExecContext(ctx, `
		UPDATE percentage_history
		SET end_date = ?
		WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
	`, end.String(), end.String(), end.String())
	return err
}

func (h *historyTx) Insert(ctx context.Context, iv split.Interval) error {
	var end any
	if iv.End != nil {
		end = iv.End.String()
	}
	_, err := h.tx.ExecContext(ctx, `
		INSERT INTO percentage_history (id, percentage, start_date, end_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		iv.ID.String(),
		iv.Percentage.String(),
		iv.Start.String(),
		end,
		nullString(iv.CreatedBy),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (h *historyTx) SetCurrent(ctx context.Context, pct decimal.Decimal) error {
	_, err := h.tx.ExecContext(ctx, `
		INSERT INTO settings (setting_key, setting_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(setting_key) DO UPDATE SET
			setting_value = excluded.setting_value,
			updated_at = excluded.updated_at
	`, currentPercentageKey, pct.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func scanInterval(row interface{ Scan(...any) error }) (split.Interval, error) {
	var (
		iv        split.Interval
		id        string
		pctStr    string
		startStr  string
		endStr    sql.NullString
		createdBy sql.NullString
	)
	if err := row.Scan(&id, &pctStr, &startStr, &endStr, &createdBy); err != nil {
		return split.Interval{}, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return split.Interval{}, fmt.Errorf("corrupt interval id %q: %w", id, err)
	}
	iv.ID = parsedID

	iv.Percentage, err = decimal.NewFromString(pctStr)
	if err != nil {
		return split.Interval{}, fmt.Errorf("corrupt percentage %q: %w", pctStr, err)
	}

	iv.Start, err = split.ParseDate(startStr)
	if err != nil {
		return split.Interval{}, err
	}
	if endStr.Valid {
		end, err := split.ParseDate(endStr.String)
		if err != nil {
			return split.Interval{}, err
		}
		iv.End = &end
	}
	iv.CreatedBy = createdBy.String
	return iv, nil
}

// =============================================================================
// SERVICES
// =============================================================================

// ServiceRow is a service record joined with its owner's username for
// display in listings.
type ServiceRow struct {
	earnings.ServiceRecord
	Username string
}

// CreateService persists a new service record.
func (s *Store) CreateService(ctx context.Context, rec earnings.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, user_id, service_name, client, time, earnings, date, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID.String(),
		rec.UserID.String(),
		rec.ServiceName,
		nullString(rec.Client),
		nullString(rec.Time),
		rec.Earnings.String(),
		rec.Date.String(),
		nullString(rec.Comment),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

// Services returns all service records, newest first, optionally limited
// to a [from, to] date window.
func (s *Store) Services(ctx context.Context, from, to *split.Date) ([]ServiceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := serviceQuery("", nil, from, to)
	return s.queryServices(ctx, query, args...)
}

// ServicesByUser returns one user's service records, newest first.
func (s *Store) ServicesByUser(ctx context.Context, userID uuid.UUID, from, to *split.Date) ([]ServiceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := serviceQuery("s.user_id = ?", []any{userID.String()}, from, to)
	return s.queryServices(ctx, query, args...)
}

func serviceQuery(where string, args []any, from, to *split.Date) (string, []any) {
	query := `
		SELECT s.id, s.user_id, s.service_name, s.client, s.time, s.earnings, s.date, s.comment, s.created_at,
		       u.username
		FROM services s
		JOIN users u ON s.user_id = u.id
	`

	var conditions []string
	if where != "" {
		conditions = append(conditions, where)
	}
	if from != nil {
		conditions = append(conditions, "s.date >= ?")
		args = append(args, from.String())
	}
	if to != nil {
		conditions = append(conditions, "s.date <= ?")
		args = append(args, to.String())
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY s.date DESC, s.created_at DESC"

	return query, args
}

func (s *Store) queryServices(ctx context.Context, query string, args ...any) ([]ServiceRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var out []ServiceRow
	for rows.Next() {
		var (
			r                    ServiceRow
			id, userID           string
			client, tm, comment  sql.NullString
			earningsStr, dateStr string
			createdAt            string
		)
		if err := rows.Scan(&id, &userID, &r.ServiceName, &client, &tm, &earningsStr, &dateStr, &comment, &createdAt, &r.Username); err != nil {
			return nil, err
		}

		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt service id %q: %w", id, err)
		}
		if r.UserID, err = uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("corrupt service owner %q: %w", userID, err)
		}
		if r.Earnings, err = decimal.NewFromString(earningsStr); err != nil {
			return nil, fmt.Errorf("corrupt earnings %q: %w", earningsStr, err)
		}
		if r.Date, err = split.ParseDate(dateStr); err != nil {
			return nil, err
		}
		r.Client = client.String
		r.Time = tm.String
		r.Comment = comment.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteService removes a service record. When owner is non-nil the
// delete is scoped to that owner (employees can only delete their own);
// admins pass nil. Returns false when nothing matched.
func (s *Store) DeleteService(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM services WHERE id = ?"
	args := []any{id.String()}
	if owner != nil {
		query += " AND user_id = ?"
		args = append(args, owner.String())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete service: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateServiceComment sets the comment on a record owned by owner.
// The comment is the only mutable field of a service record.
func (s *Store) UpdateServiceComment(ctx context.Context, id, owner uuid.UUID, comment string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE services SET comment = ? WHERE id = ? AND user_id = ?",
		nullString(comment), id.String(), owner.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update comment: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser persists a user. Returns ErrUsernameTaken on duplicates.
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		u.ID.String(), u.Username, u.PasswordHash, string(u.Role),
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UserByUsername looks up a user by exact username. Returns nil when absent.
func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUser(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?",
		username)
}

// UserByID looks up a user by id. Returns nil when absent.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUser(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?",
		id.String())
}

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*auth.User, error) {
	var (
		u         auth.User
		id, role  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &u.Username, &u.PasswordHash, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	u.Role = auth.Role(role)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// Employees returns all employee-role users ordered by username.
func (s *Store) Employees(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE role = ?
		ORDER BY username ASC
	`, string(auth.RoleEmployee))
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		var (
			u         auth.User
			id, role  string
			createdAt string
		)
		if err := rows.Scan(&id, &u.Username, &u.PasswordHash, &role, &createdAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
		}
		u.Role = auth.Role(role)
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// REFRESH TOKENS
// =============================================================================

// SaveRefreshToken persists a refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, rt auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rt.Token, rt.UserID.String(),
		rt.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(rt.Revoked),
		rt.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// RefreshTokenByValue returns a token that is neither revoked nor
// expired, or nil.
func (s *Store) RefreshTokenByValue(ctx context.Context, token string) (*auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rt                   auth.RefreshToken
		userID               string
		expiresAt, createdAt string
		revoked              int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, revoked, created_at
		FROM refresh_tokens
		WHERE token = ? AND revoked = 0 AND expires_at > ?
	`, token, time.Now().UTC().Format(time.RFC3339)).
		Scan(&rt.Token, &userID, &expiresAt, &revoked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}

	if rt.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("corrupt token owner %q: %w", userID, err)
	}
	rt.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	rt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rt.Revoked = revoked != 0
	return &rt, nil
}

// RevokeRefreshToken marks one token revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE token = ?", token)
	return err
}

// RevokeUserTokens revokes every token of one user.
func (s *Store) RevokeUserTokens(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?", userID.String())
	return err
}

// DeleteExpiredTokens removes revoked and expired tokens. Returns the
// number of rows deleted.
func (s *Store) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE revoked = 1 OR expires_at <= ?",
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
