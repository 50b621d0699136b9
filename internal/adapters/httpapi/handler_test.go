package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/auth"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "operator-key"

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, []domain.DomainEvent) error { return nil }

type stubExecutor struct{}

func (stubExecutor) Backup(_ context.Context, t *domain.Tenant, b *domain.TenantBackup) (ports.BackupArtifact, error) {
	return ports.BackupArtifact{Location: "/backups/" + t.ID + "/" + b.ID + ".db", SizeBytes: 2048}, nil
}

func (stubExecutor) Restore(context.Context, *domain.Tenant, *domain.TenantBackup) error { return nil }

type capturedReset struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *capturedReset) NotifyReset(_ *http.Request, email, _, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[email] = token
	return nil
}

func (c *capturedReset) token(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[email]
}

type testServer struct {
	handler http.Handler
	auth    *usecase.AuthService
	jwt     *auth.JWTIssuer
	resets  *capturedReset
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	master, err := gormsqlite.Open(filepath.Join(dir, "master.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = master.Close() })
	require.NoError(t, sqlite.MigrateMaster(context.Background(), master))

	p := sqlite.NewPipeline(nopDispatcher{}, zerolog.Nop())
	reg := sqlite.NewRegistry(master, p)
	f := sqlite.NewContextFactory(reg, master, p, nil, zerolog.Nop())
	t.Cleanup(func() { _ = f.Close() })

	validator := usecase.NewPayloadValidator()
	authSvc := usecase.NewAuthService(sqlite.NewAPIKeyRepository(master))
	require.NoError(t, authSvc.Ensure(context.Background(), adminKey, "operator", ""))

	issuer, err := auth.NewJWTIssuer("jwt-secret-for-tests-at-least-32-bytes", "tenantdb", time.Hour)
	require.NoError(t, err)

	resets := &capturedReset{tokens: map[string]string{}}
	svc := Services{
		Lifecycle: usecase.NewLifecycleService(reg, f, f, validator, usecase.LifecycleConfig{
			TenantDir:  filepath.Join(dir, "tenants"),
			BaseDomain: "tenants.test",
			BcryptCost: bcrypt.MinCost,
		}, zerolog.Nop()),
		Backups: usecase.NewBackupService(reg, f, stubExecutor{}, f, validator, 24*time.Hour, zerolog.Nop()),
		Resets: usecase.NewPasswordResetService(reg, f, f, usecase.PasswordResetConfig{
			TokenTTL:   time.Hour,
			BcryptCost: bcrypt.MinCost,
		}, usecase.SearchOptions{Log: zerolog.Nop()}),
		Records:  usecase.NewRecordService(f),
		Auth:     authSvc,
		Resolver: usecase.NewTenantResolver(reg),
		Tokens:   issuer,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Notifier: resets,
	}
	return &testServer{
		handler: NewHandler(svc, zerolog.Nop()).Router(),
		auth:    authSvc,
		jwt:     issuer,
		resets:  resets,
	}
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
	host    string
}

func (s *testServer) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.host != "" {
		req.Host = c.host
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (s *testServer) registerTenant(t *testing.T, code string, activate bool) string {
	t.Helper()
	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants", token: adminKey, body: map[string]string{
		"code":           code,
		"name":           "Tenant " + code,
		"admin_email":    "admin@" + code + ".test",
		"admin_password": "initial-pass",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := out["tenant"].(map[string]any)["id"].(string)
	if activate {
		rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/confirm-payment", token: adminKey, body: map[string]string{"reference": "inv-" + code}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return id
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["ok"])

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# metrics")
}

func TestAdminRoutesRequireOperatorCredential(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", token: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	id := s.registerTenant(t, "acme", true)
	tenantKey, err := s.auth.Issue(context.Background(), "acme-client", id)
	require.NoError(t, err)
	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", token: tenantKey})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, out := s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", token: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 1)
}

func TestRegisterTenantValidation(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants", token: adminKey, body: map[string]string{"code": "x"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation failed", out["error"])
	require.NotEmpty(t, out["details"])

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants", token: adminKey, body: "{"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	s.registerTenant(t, "dup", false)
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants", token: adminKey, body: map[string]string{
		"code": "dup", "name": "Again", "admin_email": "x@dup.test", "admin_password": "another-pass",
	}})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTenantLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.registerTenant(t, "life", false)

	rec, _ := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/suspend", token: adminKey, body: map[string]string{"reason": "x"}})
	require.Equal(t, http.StatusConflict, rec.Code, "pending tenants cannot be suspended")

	rec, _ = s.do(t, call{method: http.MethodPut, path: "/v1/collections/notes/records/n1", token: adminKey,
		headers: map[string]string{"X-Tenant-Code": "life"}, body: map[string]int{"v": 1}})
	require.Equal(t, http.StatusNotFound, rec.Code, "pending tenants are not routable")

	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/confirm-payment", token: adminKey, body: map[string]string{"reference": "inv"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "active", out["status"])

	rec, out = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/suspend", token: adminKey, body: map[string]string{"reason": "overdue"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "suspended", out["status"])

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records", token: adminKey,
		headers: map[string]string{"X-Tenant-Code": "life"}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/reactivate", token: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["active"])

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants/missing", token: adminKey})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordsResolveTenant(t *testing.T) {
	s := newTestServer(t)
	a := s.registerTenant(t, "alpha", true)
	s.registerTenant(t, "bravo", true)

	rec, out := s.do(t, call{method: http.MethodPut, path: "/v1/collections/notes/records/n1", token: adminKey,
		headers: map[string]string{"X-Tenant-Code": "alpha"}, body: map[string]int{"v": 1}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "operator", out["created_by"])

	rec, _ = s.do(t, call{method: http.MethodPut, path: "/v1/collections/notes/records/n1", token: adminKey,
		headers: map[string]string{"X-Tenant-Code": "alpha"}, body: map[string]int{"v": 2}})
	require.Equal(t, http.StatusOK, rec.Code)

	// resolved from the Host header
	rec, out = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records/n1", token: adminKey, host: "alpha.tenants.test:8080"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"v": float64(2)}, out["data"])

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records/n1", token: adminKey,
		headers: map[string]string{"X-Tenant-Code": "bravo"}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records/n1", token: adminKey, host: "unknown.example"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// a tenant-bound key ignores the header
	key, err := s.auth.Issue(context.Background(), "alpha-client", a)
	require.NoError(t, err)
	rec, out = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records", token: key,
		headers: map[string]string{"X-Tenant-Code": "bravo"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 1)

	jwtToken, err := s.jwt.Issue("user-7", a)
	require.NoError(t, err)
	rec, out = s.do(t, call{method: http.MethodPut, path: "/v1/collections/notes/records/n2", token: jwtToken, body: map[string]int{"v": 3}})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "user-7", out["created_by"])

	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/v1/collections/notes/records/n1", token: key})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/v1/collections/notes/records/n1", token: key})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/collections/notes/records?limit=abc", token: key})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.registerTenant(t, "reset", true)

	rec, _ := s.do(t, call{method: http.MethodPost, path: "/v1/password-reset/request", body: map[string]string{"email": "nobody@reset.test", "tenant_code": "reset"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, s.resets.token("nobody@reset.test"))

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/password-reset/request", body: map[string]string{"email": "admin@reset.test", "tenant_code": "reset"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	token := s.resets.token("admin@reset.test")
	require.NotEmpty(t, token)

	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/password-reset/confirm", body: map[string]string{"token": "bogus", "password": "long-enough"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "invalid or expired token", out["error"])

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/password-reset/confirm", body: map[string]string{"token": token, "password": "short"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/password-reset/confirm", body: map[string]string{"token": token, "password": "new-password-1"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBackupsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.registerTenant(t, "bk", true)

	rec, _ := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/backups", token: adminKey, body: map[string]string{"kind": "hourly"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/backups", token: adminKey, body: map[string]any{"protected": true, "compress": true}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "completed", out["status"])
	require.Equal(t, "2.0 kB", out["size"])
	backupID := out["id"].(string)

	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/v1/admin/backups/" + backupID, token: adminKey})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, out = s.do(t, call{method: http.MethodPost, path: "/v1/admin/backups/" + backupID + "/restore", token: adminKey, body: map[string]string{"notes": "drill"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(1), out["restore_count"])

	rec, out = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants/" + id + "/backups", token: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 1)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/admin/backups/nope", token: adminKey})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBindDomainOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.registerTenant(t, "dom", true)

	rec, out := s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/domains", token: adminKey, body: map[string]any{"host": "shop.example.com", "primary": true}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "shop.example.com", out["host"])

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/domains", token: adminKey, body: map[string]any{"host": "shop.example.com"}})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/admin/tenants/" + id + "/domains", token: adminKey, body: map[string]any{"host": "not a host"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = s.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants/" + id + "/domains", token: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 2)
}

func TestDomainErrorStatus(t *testing.T) {
	h := NewHandler(Services{}, zerolog.Nop())
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.Validationf("bad"), http.StatusBadRequest},
		{"unknown tenant", domain.ErrUnknownTenant, http.StatusNotFound},
		{"missing", fmt.Errorf("get backup: %w", domain.ErrNotFound), http.StatusNotFound},
		{"expired backup", fmt.Errorf("restore: %w", domain.ErrExpired), http.StatusConflict},
		{"not restorable", domain.ErrNotRestorable, http.StatusConflict},
		{"cannot delete", domain.ErrCannotDelete, http.StatusConflict},
		{"store down", domain.ErrConnectionFailure, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.handleDomainError(rec, httptest.NewRequest(http.MethodPost, "/", nil), tt.err)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}
