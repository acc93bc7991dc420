/*
handlers.go - HTTP API handlers for the earnings backend

PURPOSE:
  Exposes the split ledger and earnings aggregator via REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                Login with username/password
    POST   /api/auth/refresh              Rotate refresh token
    POST   /api/auth/logout               Revoke refresh token
    GET    /api/auth/me                   Current user

  Services:
    GET    /api/services                  List (admin: all, employee: own)
    POST   /api/services                  Create for an employee (admin)
    DELETE /api/services/{id}             Delete (owner or admin)
    PATCH  /api/services/{id}/comment     Update comment (owner)
    GET    /api/services/stats/user       Own stats
    GET    /api/services/stats/user/{id}  Any user's stats (admin)
    GET    /api/services/stats/admin      Per-employee + global stats (admin)

  Settings:
    GET    /api/settings/employee-percentage   Current split (0-100)
    PUT    /api/settings/employee-percentage   Install new split (admin)

  Users:
    GET    /api/users/employees           Employee directory (admin)

ROLE POLICY:
  Only admins create service records, always on an employee's behalf.
  Employees read, delete, and comment on their own records.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid credentials or token
  - 403: Role denied
  - 404: Resource not found
  - 500: Ledger transaction failure (already rolled back) or store errors
  - 503: Backing store unreachable
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/earnings-engine/auth"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/split"
	"github.com/warp/earnings-engine/store/sqlite"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Ledger     *split.Ledger
	Aggregator *earnings.Aggregator
	Tokens     *auth.TokenIssuer
	RefreshTTL time.Duration
	Logger     *zap.Logger
}

// NewHandler wires the ledger and aggregator over the given store.
func NewHandler(store *sqlite.Store, tokens *auth.TokenIssuer, refreshTTL time.Duration, logger *zap.Logger) *Handler {
	ledger := split.NewLedger(store)
	return &Handler{
		Store:      store,
		Ledger:     ledger,
		Aggregator: earnings.NewAggregator(ledger),
		Tokens:     tokens,
		RefreshTTL: refreshTTL,
		Logger:     logger,
	}
}

// =============================================================================
// AUTH
// =============================================================================

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		h.serverError(w, "login lookup", err)
		return
	}
	if user == nil || !user.VerifyPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	access, err := h.Tokens.Issue(*user)
	if err != nil {
		h.serverError(w, "issue access token", err)
		return
	}
	refresh, err := auth.NewRefreshToken(user.ID, h.RefreshTTL)
	if err != nil {
		h.serverError(w, "mint refresh token", err)
		return
	}
	if err := h.Store.SaveRefreshToken(r.Context(), refresh); err != nil {
		h.serverError(w, "save refresh token", err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:        access,
		RefreshToken: refresh.Token,
		User:         toUserDTO(user),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	stored, err := h.Store.RefreshTokenByValue(r.Context(), req.RefreshToken)
	if err != nil {
		h.serverError(w, "refresh lookup", err)
		return
	}
	if stored == nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	user, err := h.Store.UserByID(r.Context(), stored.UserID)
	if err != nil {
		h.serverError(w, "refresh user lookup", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	access, err := h.Tokens.Issue(*user)
	if err != nil {
		h.serverError(w, "issue access token", err)
		return
	}

	// Rotate: the presented token is revoked before the new one is handed out.
	if err := h.Store.RevokeRefreshToken(r.Context(), stored.Token); err != nil {
		h.serverError(w, "revoke refresh token", err)
		return
	}
	next, err := auth.NewRefreshToken(user.ID, h.RefreshTTL)
	if err != nil {
		h.serverError(w, "mint refresh token", err)
		return
	}
	if err := h.Store.SaveRefreshToken(r.Context(), next); err != nil {
		h.serverError(w, "save refresh token", err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: access, RefreshToken: next.Token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		if err := h.Store.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
			h.serverError(w, "revoke refresh token", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out successfully"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	user, err := h.Store.UserByID(r.Context(), claims.UserID)
	if err != nil {
		h.serverError(w, "me lookup", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// =============================================================================
// SERVICES
// =============================================================================

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	from, to, err := dateWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rows []sqlite.ServiceRow
	if claims.Role == auth.RoleAdmin {
		rows, err = h.Store.Services(r.Context(), from, to)
	} else {
		rows, err = h.Store.ServicesByUser(r.Context(), claims.UserID, from, to)
	}
	if err != nil {
		h.serverError(w, "list services", err)
		return
	}

	out := make([]ServiceDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toServiceDTO(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.ServiceName == "" || req.Earnings == "" {
		writeError(w, http.StatusBadRequest, "username, service name, and earnings are required")
		return
	}

	amount, err := decimal.NewFromString(req.Earnings)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "earnings must be a non-negative number")
		return
	}

	date := split.Today()
	if req.Date != "" {
		if date, err = split.ParseDate(req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	employee, err := h.Store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		h.serverError(w, "employee lookup", err)
		return
	}
	if employee == nil {
		writeError(w, http.StatusNotFound, "employee not found")
		return
	}
	if employee.Role != auth.RoleEmployee {
		writeError(w, http.StatusBadRequest, "can only add services for employees")
		return
	}

	rec := earnings.ServiceRecord{
		ID:          uuid.New(),
		UserID:      employee.ID,
		ServiceName: req.ServiceName,
		Client:      req.Client,
		Time:        time.Now().Format("3:04 PM"),
		Earnings:    amount,
		Date:        date,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.CreateService(r.Context(), rec); err != nil {
		h.serverError(w, "create service", err)
		return
	}

	writeJSON(w, http.StatusCreated, toServiceDTO(sqlite.ServiceRow{
		ServiceRecord: rec,
		Username:      employee.Username,
	}))
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service id")
		return
	}

	// Admins may delete any record; employees only their own.
	var owner *uuid.UUID
	if claims.Role != auth.RoleAdmin {
		owner = &claims.UserID
	}

	deleted, err := h.Store.DeleteService(r.Context(), id, owner)
	if err != nil {
		h.serverError(w, "delete service", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "service deleted successfully"})
}

func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service id")
		return
	}

	var req UpdateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.Store.UpdateServiceComment(r.Context(), id, claims.UserID, req.Comment)
	if err != nil {
		h.serverError(w, "update comment", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "comment updated"})
}

// =============================================================================
// STATS
// =============================================================================

func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	// Employees always get their own stats; admins may target any user.
	target := claims.UserID
	if param := chi.URLParam(r, "userID"); param != "" && claims.Role == auth.RoleAdmin {
		id, err := uuid.Parse(param)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		user, err := h.Store.UserByID(r.Context(), id)
		if err != nil {
			h.serverError(w, "stats user lookup", err)
			return
		}
		if user == nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		target = id
	}

	rows, err := h.Store.ServicesByUser(r.Context(), target, nil, nil)
	if err != nil {
		h.serverError(w, "stats load services", err)
		return
	}

	stats, err := h.Aggregator.StatsForUser(r.Context(), toRecords(rows))
	if err != nil {
		h.serverError(w, "aggregate user stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.Employees(r.Context())
	if err != nil {
		h.serverError(w, "admin stats employees", err)
		return
	}
	rows, err := h.Store.Services(r.Context(), nil, nil)
	if err != nil {
		h.serverError(w, "admin stats services", err)
		return
	}

	subjects := make([]earnings.Employee, 0, len(employees))
	for _, e := range employees {
		subjects = append(subjects, earnings.Employee{ID: e.ID, Username: e.Username})
	}
	records := toRecords(rows)

	perUser, err := h.Aggregator.StatsForAllEmployees(r.Context(), subjects, records)
	if err != nil {
		h.serverError(w, "aggregate per-employee stats", err)
		return
	}
	global, err := h.Aggregator.GlobalStats(r.Context(), records)
	if err != nil {
		h.serverError(w, "aggregate global stats", err)
		return
	}

	writeJSON(w, http.StatusOK, AdminStatsResponse{Users: perUser, AdminTotal: global})
}

// =============================================================================
// SETTINGS
// =============================================================================

func (h *Handler) GetPercentage(w http.ResponseWriter, r *http.Request) {
	current, err := h.Ledger.Current(r.Context())
	if err != nil {
		h.serverError(w, "read current percentage", err)
		return
	}
	writeJSON(w, http.StatusOK, PercentageResponse{Percentage: toDisplayScale(current)})
}

func (h *Handler) UpdatePercentage(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	var req UpdatePercentageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Percentage == nil {
		writeError(w, http.StatusBadRequest, "percentage is required")
		return
	}
	if *req.Percentage < 0 || *req.Percentage > 100 {
		writeError(w, http.StatusBadRequest, "percentage must be a number between 0 and 100")
		return
	}

	// Missing effective date means the change applies from today.
	var effective split.Date
	if req.EffectiveDate != "" {
		var err error
		if effective, err = split.ParseDate(req.EffectiveDate); err != nil {
			writeError(w, http.StatusBadRequest, "effectiveDate must be YYYY-MM-DD")
			return
		}
	}

	pct := decimal.NewFromFloat(*req.Percentage)
	current, err := h.Ledger.SetPercentage(r.Context(), pct, effective, claims.Username)
	if err != nil {
		h.serverError(w, "set percentage", err)
		return
	}

	writeJSON(w, http.StatusOK, PercentageResponse{Percentage: toDisplayScale(current)})
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.Employees(r.Context())
	if err != nil {
		h.serverError(w, "list employees", err)
		return
	}

	out := make([]UserDTO, 0, len(employees))
	for i := range employees {
		out = append(out, *toUserDTO(&employees[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func toUserDTO(u *auth.User) *UserDTO {
	return &UserDTO{ID: u.ID.String(), Username: u.Username, Role: string(u.Role)}
}

func toRecords(rows []sqlite.ServiceRow) []earnings.ServiceRecord {
	records := make([]earnings.ServiceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.ServiceRecord)
	}
	return records
}

func toDisplayScale(fraction decimal.Decimal) float64 {
	f, _ := fraction.Mul(decimal.NewFromInt(100)).Float64()
	return f
}

// dateWindow parses the optional startDate/endDate query parameters.
func dateWindow(r *http.Request) (from, to *split.Date, err error) {
	if s := r.URL.Query().Get("startDate"); s != "" {
		d, err := split.ParseDate(s)
		if err != nil {
			return nil, nil, err
		}
		from = &d
	}
	if s := r.URL.Query().Get("endDate"); s != "" {
		d, err := split.ParseDate(s)
		if err != nil {
			return nil, nil, err
		}
		to = &d
	}
	return from, to, nil
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error(op, zap.Error(err))

	switch {
	case errors.Is(err, split.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "backing store unavailable")
	case errors.Is(err, split.ErrTransactionFailed):
		writeError(w, http.StatusInternalServerError, "update failed and was rolled back")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
