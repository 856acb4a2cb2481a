package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/audit"
	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/store/memory"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/appforge/usagesync/internal/usagesync"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = AuthConfig{Secret: []byte("test-secret"), Issuer: "usagesync-test"}

type failingDirectory struct{}

func (failingDirectory) ListApplications(ctx context.Context, tc tenant.Context, f app.Filter) ([]*app.Summary, error) {
	return nil, errors.New("directory offline")
}

func newFixture(t *testing.T, dir app.Directory, auth AuthConfig) (*httptest.Server, *memory.QuotaStore) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotas := memory.NewQuotaStore()
	tenants := memory.NewTenantRepository(
		&tenant.Tenant{ID: "acme", Name: "Acme", Status: tenant.StatusActive},
	)
	job := usagesync.NewJob(dir, quotas, audit.NewSlogLogger(quiet), usagesync.WithLogger(quiet))
	runner := usagesync.NewRunner(job, tenants, usagesync.RunnerConfig{MaxAttempts: 1}, quiet, nil)

	rl := NewRateLimiter(0, 1)
	t.Cleanup(rl.Close)

	srv := httptest.NewServer(NewRouter(NewHandler(runner, quotas, auth), rl))
	t.Cleanup(srv.Close)
	return srv, quotas
}

func acmeDirectory(n int) *memory.AppDirectory {
	dir := memory.NewAppDirectory()
	for i := 0; i < n; i++ {
		dir.Add(&app.Summary{ID: string(rune('a' + i)), TenantID: "acme", Status: app.StatusDevelopment})
	}
	return dir
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := SignAdminToken(testAuth, "ops@example.com", time.Minute)
	require.NoError(t, err)
	return tok
}

// TestPurpose: Validates that the health endpoint is reachable without credentials.
// Scope: Unit Test
// Expected: 200 with status healthy.
// Test Case ID: API-01
func TestAPI_HealthCheck(t *testing.T) {
	srv, _ := newFixture(t, acmeDirectory(0), testAuth)

	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

// TestPurpose: Validates that admin routes reject missing, forged, expired, and under-scoped tokens.
// Scope: Unit Test
// Security: Admin API authentication
// Expected: 401 for missing/invalid/expired tokens, 403 for a token without the usage:sync scope.
// Test Case ID: API-02
func TestAPI_AuthEnforcement(t *testing.T) {
	srv, _ := newFixture(t, acmeDirectory(1), testAuth)
	url := srv.URL + "/api/v1/tenants/acme/usage/sync"

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, url, "").StatusCode)

	forged, err := SignAdminToken(AuthConfig{Secret: []byte("other"), Issuer: testAuth.Issuer}, "x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, url, forged).StatusCode)

	expired, err := SignAdminToken(testAuth, "x", -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, url, expired).StatusCode)

	noScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Scope: "usage:read",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testAuth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(testAuth.Secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, url, noScope).StatusCode)
}

// TestPurpose: Validates that the admin API is closed when no signing secret is configured.
// Scope: Unit Test
// Security: Fail-closed configuration
// Expected: 401 even for a token signed with some secret.
// Test Case ID: API-03
func TestAPI_DisabledWithoutSecret(t *testing.T) {
	srv, _ := newFixture(t, acmeDirectory(1), AuthConfig{})

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tenants/acme/usage", adminToken(t))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestPurpose: Validates the sync-then-read flow for a single tenant.
// Scope: Unit Test
// Expected: 404 before the first sync, 200 with apps=3 from sync, and the stored document afterwards.
// Test Case ID: API-04
func TestAPI_SyncTenant(t *testing.T) {
	srv, _ := newFixture(t, acmeDirectory(3), testAuth)
	tok := adminToken(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/tenants/acme/usage", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/usage/sync", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res usagesync.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "acme", res.TenantID)
	assert.Equal(t, 3, res.Apps)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/tenants/acme/usage", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc quota.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, int64(3), doc.UsageQuota.Apps)
}

// TestPurpose: Validates error mapping for unknown tenants and inventory outages.
// Scope: Unit Test
// Expected: 404 for an unknown tenant, 502 when the directory fails.
// Test Case ID: API-05
func TestAPI_SyncTenant_Errors(t *testing.T) {
	srv, quotas := newFixture(t, failingDirectory{}, testAuth)
	tok := adminToken(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/tenants/ghost/usage/sync", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/usage/sync", tok)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, err := quotas.Get(context.Background(), tenant.Context{ID: "acme"})
	assert.ErrorIs(t, err, quota.ErrNotFound)
}

// TestPurpose: Validates the all-tenants sync endpoint.
// Scope: Unit Test
// Expected: 200 with a report listing acme as succeeded.
// Test Case ID: API-06
func TestAPI_SyncAll(t *testing.T) {
	srv, _ := newFixture(t, acmeDirectory(2), testAuth)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/usage/sync", adminToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report usagesync.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Len(t, report.Tenants, 1)
	assert.Equal(t, usagesync.StateSucceeded, report.Tenants[0].State)
	assert.Equal(t, 2, report.Tenants[0].Apps)
}

// TestPurpose: Validates that clients over their request budget are throttled.
// Scope: Unit Test
// Expected: The second immediate request from the same IP gets 429.
// Test Case ID: API-07
func TestAPI_RateLimit(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Close()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.7:4000" + string(rune('0'+i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}
