/*
handlers_test.go - HTTP-level tests for the API

Tests for:
- Login, refresh rotation, and token enforcement
- Role gates on service creation and admin routes
- Percentage read/update via the settings endpoints
- Per-record earnings stats across a percentage change
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/earnings-engine/auth"
	"github.com/warp/earnings-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	store  *sqlite.Store
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, auth.NewTokenIssuer("test-secret", 15*time.Minute), 30*24*time.Hour, zap.NewNop())
	return &testServer{store: store, router: NewRouter(h, []string{"*"})}
}

func (ts *testServer) createUser(t *testing.T, username, password string, role auth.Role) auth.User {
	t.Helper()
	u, err := auth.NewUser(username, password, role)
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateUser(context.Background(), u))
	return u
}

// do issues a JSON request, optionally with a bearer token, and decodes the
// response body into out (when out is non-nil).
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func (ts *testServer) login(t *testing.T, username, password string) TokenResponse {
	t.Helper()
	var resp TokenResponse
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	return resp
}

func ptrFloat(f float64) *float64 { return &f }

// =============================================================================
// AUTH
// =============================================================================

func TestLogin_SuccessAndFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)

	// WHEN: Logging in with correct credentials
	resp := ts.login(t, "maria", "secret123")

	// THEN: Both tokens are minted and the user is echoed back
	assert.NotEmpty(t, resp.Token)
	assert.Len(t, resp.RefreshToken, 128)
	require.NotNil(t, resp.User)
	assert.Equal(t, "maria", resp.User.Username)
	assert.Equal(t, "employee", resp.User.Role)

	// WHEN: The password is wrong
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "maria", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// WHEN: The user does not exist
	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "ghost", Password: "secret123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	first := ts.login(t, "maria", "secret123")

	// WHEN: The refresh token is exchanged
	var rotated TokenResponse
	rec := ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: first.RefreshToken}, &rotated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rotated.Token)
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)

	// THEN: The old refresh token is dead
	rec = ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: first.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// AND: The rotated one still works
	rec = ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	session := ts.login(t, "maria", "secret123")

	rec := ts.do(t, http.MethodPost, "/api/auth/logout", "", RefreshRequest{RefreshToken: session.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)

	rec := ts.do(t, http.MethodGet, "/api/auth/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	session := ts.login(t, "maria", "secret123")
	var me UserDTO
	rec = ts.do(t, http.MethodGet, "/api/auth/me", session.Token, nil, &me)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "maria", me.Username)
}

// =============================================================================
// SERVICES AND ROLE GATES
// =============================================================================

func TestCreateService_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)

	body := CreateServiceRequest{Username: "maria", ServiceName: "haircut", Earnings: "50"}

	// An employee may not create records, not even their own.
	employee := ts.login(t, "maria", "secret123")
	rec := ts.do(t, http.MethodPost, "/api/services", employee.Token, body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := ts.login(t, "boss", "adminpw1")
	var created ServiceDTO
	rec = ts.do(t, http.MethodPost, "/api/services", admin.Token, body, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "maria", created.Username)
	assert.Equal(t, "50", created.Earnings.String())
	assert.NotEmpty(t, created.Date)
}

func TestCreateService_TargetValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	admin := ts.login(t, "boss", "adminpw1")

	// GIVEN: A target username that does not exist
	rec := ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "ghost", ServiceName: "haircut", Earnings: "50"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// GIVEN: A target that is an admin, not an employee
	rec = ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "boss", ServiceName: "haircut", Earnings: "50"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// GIVEN: Negative earnings
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	rec = ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "maria", ServiceName: "haircut", Earnings: "-5"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListServices_ScopedByRole(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	ts.createUser(t, "jonas", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")

	for _, username := range []string{"maria", "maria", "jonas"} {
		rec := ts.do(t, http.MethodPost, "/api/services", admin.Token,
			CreateServiceRequest{Username: username, ServiceName: "haircut", Earnings: "40"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Admin sees everything.
	var all []ServiceDTO
	rec := ts.do(t, http.MethodGet, "/api/services", admin.Token, nil, &all)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, all, 3)

	// An employee sees only their own rows.
	maria := ts.login(t, "maria", "secret123")
	var mine []ServiceDTO
	rec = ts.do(t, http.MethodGet, "/api/services", maria.Token, nil, &mine)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mine, 2)
	for _, s := range mine {
		assert.Equal(t, "maria", s.Username)
	}
}

func TestDeleteService_OwnerScoped(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	ts.createUser(t, "jonas", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")

	var created ServiceDTO
	rec := ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "maria", ServiceName: "haircut", Earnings: "40"}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Another employee cannot delete Maria's record.
	jonas := ts.login(t, "jonas", "secret123")
	rec = ts.do(t, http.MethodDelete, "/api/services/"+created.ID, jonas.Token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner can.
	maria := ts.login(t, "maria", "secret123")
	rec = ts.do(t, http.MethodDelete, "/api/services/"+created.ID, maria.Token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/services/"+created.ID, maria.Token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateComment_OwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	ts.createUser(t, "jonas", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")

	var created ServiceDTO
	rec := ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "maria", ServiceName: "haircut", Earnings: "40"}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)

	jonas := ts.login(t, "jonas", "secret123")
	rec = ts.do(t, http.MethodPatch, "/api/services/"+created.ID+"/comment", jonas.Token,
		UpdateCommentRequest{Comment: "not mine"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	maria := ts.login(t, "maria", "secret123")
	rec = ts.do(t, http.MethodPatch, "/api/services/"+created.ID+"/comment", maria.Token,
		UpdateCommentRequest{Comment: "regular client"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var mine []ServiceDTO
	rec = ts.do(t, http.MethodGet, "/api/services", maria.Token, nil, &mine)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, mine, 1)
	assert.Equal(t, "regular client", mine[0].Comment)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestPercentage_DefaultAndUpdate(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")
	maria := ts.login(t, "maria", "secret123")

	// Before any update the default split applies.
	var pct PercentageResponse
	rec := ts.do(t, http.MethodGet, "/api/settings/employee-percentage", maria.Token, nil, &pct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 50, pct.Percentage, 1e-9)

	// Employees may read but not write.
	rec = ts.do(t, http.MethodPut, "/api/settings/employee-percentage", maria.Token,
		UpdatePercentageRequest{Percentage: ptrFloat(60)}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin installs a new split.
	rec = ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
		UpdatePercentageRequest{Percentage: ptrFloat(60)}, &pct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 60, pct.Percentage, 1e-9)

	rec = ts.do(t, http.MethodGet, "/api/settings/employee-percentage", maria.Token, nil, &pct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 60, pct.Percentage, 1e-9)
}

func TestPercentage_RejectsOutOfRange(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	admin := ts.login(t, "boss", "adminpw1")

	for _, bad := range []float64{-1, 100.5, 250} {
		rec := ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
			UpdatePercentageRequest{Percentage: ptrFloat(bad)}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "percentage %v", bad)
	}

	rec := ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
		UpdatePercentageRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
		UpdatePercentageRequest{Percentage: ptrFloat(60), EffectiveDate: "July 1st"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// STATS
// =============================================================================

func TestStats_PerRecordResolution(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	maria := ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")

	// GIVEN: 40% until June 30, 50% from July 1
	rec := ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
		UpdatePercentageRequest{Percentage: ptrFloat(40), EffectiveDate: "2024-01-01"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPut, "/api/settings/employee-percentage", admin.Token,
		UpdatePercentageRequest{Percentage: ptrFloat(50), EffectiveDate: "2024-07-01"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// AND: One record in each regime
	for _, svc := range []CreateServiceRequest{
		{Username: "maria", ServiceName: "haircut", Earnings: "100", Date: "2024-03-10"},
		{Username: "maria", ServiceName: "coloring", Earnings: "200", Date: "2024-08-20"},
	} {
		rec := ts.do(t, http.MethodPost, "/api/services", admin.Token, svc, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// THEN: Each record pays at its own date's rate: 100*0.4 + 200*0.5 = 140
	var stats struct {
		TotalServices int    `json:"total_services"`
		TotalEarnings string `json:"total_earnings"`
		UserShare     string `json:"user_share"`
	}
	path := fmt.Sprintf("/api/services/stats/user/%s", maria.ID)
	rec = ts.do(t, http.MethodGet, path, admin.Token, nil, &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, stats.TotalServices)
	assert.Equal(t, "300", stats.TotalEarnings)
	assert.Equal(t, "140", stats.UserShare)
}

func TestAdminStats_IncludesIdleEmployees(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "boss", "adminpw1", auth.RoleAdmin)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	ts.createUser(t, "jonas", "secret123", auth.RoleEmployee)
	admin := ts.login(t, "boss", "adminpw1")

	rec := ts.do(t, http.MethodPost, "/api/services", admin.Token,
		CreateServiceRequest{Username: "maria", ServiceName: "haircut", Earnings: "100"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AdminStatsResponse
	rec = ts.do(t, http.MethodGet, "/api/services/stats/admin", admin.Token, nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)

	// Jonas has no records but still appears with zeroes.
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "jonas", resp.Users[0].Username)
	assert.Equal(t, 0, resp.Users[0].TotalServices)
	assert.Equal(t, "maria", resp.Users[1].Username)
	assert.Equal(t, 1, resp.Users[1].TotalServices)

	assert.Equal(t, 1, resp.AdminTotal.TotalServices)
	assert.Equal(t, 1, resp.AdminTotal.ActiveEmployees)
	assert.Equal(t, "50", resp.AdminTotal.TotalAdminEarnings.String())
}

func TestAdminRoutes_DenyEmployees(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "maria", "secret123", auth.RoleEmployee)
	maria := ts.login(t, "maria", "secret123")

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/services/stats/admin"},
		{http.MethodGet, "/api/users/employees"},
	} {
		rec := ts.do(t, route.method, route.path, maria.Token, nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", route.method, route.path)
	}
}
