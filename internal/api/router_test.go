package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/api"
	"github.com/kiranshivaraju/portalgate/internal/api/handler"
	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/cache/cachetest"
	"github.com/kiranshivaraju/portalgate/internal/edge/mock"
	"github.com/kiranshivaraju/portalgate/internal/otp"
	"github.com/kiranshivaraju/portalgate/internal/portal"
	"github.com/kiranshivaraju/portalgate/internal/provisioning"
	"github.com/kiranshivaraju/portalgate/internal/resolver"
	"github.com/kiranshivaraju/portalgate/internal/session"
	"github.com/kiranshivaraju/portalgate/internal/store/storetest"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	baseDomain = "portal.test"
	domainsKey = "pg_domains_1234567890abcdef"
	readKey    = "pg_readonly_1234567890abcdef"
)

// --- capturing notifier ---

type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *outbox) Name() string { return "outbox" }

func (o *outbox) SendCode(_ context.Context, destination, code string, _ *models.Tenant) error {
	o.mu.Lock()
	o.codes[destination] = code
	o.mu.Unlock()
	return nil
}

func (o *outbox) code(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

// --- fixture ---

type fixture struct {
	router      http.Handler
	store       *storetest.MemoryStore
	provisioner *provisioning.Provisioner
	outbox      *outbox
	acme        *models.Tenant
	globex      *models.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storetest.New()
	ca := cachetest.New()

	acme := &models.Tenant{Slug: "acme", Name: "Acme", PortalEnabled: true}
	require.NoError(t, st.CreateTenant(ctx, acme))
	globex := &models.Tenant{Slug: "globex", Name: "Globex", PortalEnabled: true}
	require.NoError(t, st.CreateTenant(ctx, globex))
	require.NoError(t, st.CreateCustomer(ctx, &models.Customer{TenantID: acme.ID, Email: "ada@example.com"}))
	require.NoError(t, st.CreateCustomer(ctx, &models.Customer{TenantID: globex.ID, Email: "ada@example.com"}))

	addKey(t, st, domainsKey, acme.ID, models.ScopeDomains)
	addKey(t, st, readKey, acme.ID, "read")

	tp := telemetry.NewProvider()
	metrics, err := telemetry.New(tp)
	require.NoError(t, err)

	res := resolver.New(st, ca, resolver.Config{BaseDomain: baseDomain, ReservedSlugs: []string{"www", "api"}}, metrics)
	prov := provisioning.NewProvisioner(st, mock.NewMockProvider("edge."+baseDomain), res, provisioning.Config{
		BaseDomain:      baseDomain,
		CNAMETarget:     "edge." + baseDomain,
		ProviderTimeout: time.Second,
		BaseBackoff:     time.Second,
		MaxBackoff:      time.Minute,
		MaxAttempts:     10,
		MaxAge:          time.Hour,
	}, metrics)

	box := &outbox{codes: map[string]string{}}
	auth := otp.NewAuthenticator(st, ca, box, otp.Config{
		TTL:               10 * time.Minute,
		IssueCooldown:     time.Minute,
		MaxIssuesPerHour:  5,
		MaxFailedVerifies: 5,
		LockoutWindow:     15 * time.Minute,
		HashCost:          bcrypt.MinCost,
		NotifyTimeout:     time.Second,
		NotifyWait:        time.Second,
	}, metrics)
	sessions := session.NewManager(st, time.Hour, metrics)
	login := portal.NewLoginService(auth, sessions, st, false)
	cookie := handler.CookieConfig{MaxAge: time.Hour}

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(ca, 1000),
		Tenant:    mw.NewTenant(res, false),
		Session:   mw.NewSession(sessions),

		HealthHandler:  handler.NewHealthHandler(st, ca),
		MetricsHandler: handler.NewMetricsHandler(tp),

		PutDomainHandler:    handler.NewPutDomainHandler(prov),
		GetDomainHandler:    handler.NewGetDomainHandler(prov),
		DeleteDomainHandler: handler.NewDeleteDomainHandler(prov),
		DomainEventsHandler: handler.NewDomainEventsHandler(prov),

		LookupDomainHandler: handler.NewLookupDomainHandler(res),
		PortalTenantHandler: handler.NewPortalTenantHandler(),
		RequestCodeHandler:  handler.NewRequestCodeHandler(login),
		VerifyCodeHandler:   handler.NewVerifyCodeHandler(login, cookie),
		LogoutHandler:       handler.NewLogoutHandler(sessions, cookie),
		MeHandler:           handler.NewMeHandler(),
	})

	return &fixture{router: router, store: st, provisioner: prov, outbox: box, acme: acme, globex: globex}
}

func addKey(t *testing.T, st *storetest.MemoryStore, raw string, tenantID int64, scopes ...string) {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
		ID: uuid.New(), TenantID: tenantID, Name: "test", KeyHash: string(h), KeyPrefix: raw[:8], Scopes: scopes,
	}))
}

func (f *fixture) do(t *testing.T, method, url string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func bearer(key string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error.Code
}

// --- router tests ---

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_TenantEndpoints_RequireAuth(t *testing.T) {
	f := newFixture(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"PUT", "/api/v1/tenant/domain"},
		{"GET", "/api/v1/tenant/domain"},
		{"DELETE", "/api/v1/tenant/domain"},
		{"GET", "/api/v1/tenant/domain/events"},
		{"GET", "/api/v1/admin/metrics"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := f.do(t, ep.method, ep.path, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
		})
	}
}

func TestRouter_ScopeEnforced(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/api/v1/tenant/domain", nil, bearer(readKey))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "GET", "/api/v1/admin/metrics", nil, bearer(domainsKey))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_UnknownHost(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "http://nobody.example.com/api/v1/portal/tenant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PORTAL_NOT_FOUND", errCode(t, w))
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/v1/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CustomDomainLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(t, "PUT", "/api/v1/tenant/domain", map[string]string{"hostname": "Pay.Acme.com"}, bearer(domainsKey))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	status := data(t, w)
	assert.Equal(t, "pay.acme.com", status["hostname"])
	assert.Equal(t, models.DomainStatusPendingVerification, status["status"])

	// Not routable until verified.
	w = f.do(t, "GET", "http://pay.acme.com/api/v1/portal/tenant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, f.provisioner.Reconcile(ctx, uuid.MustParse(status["record_id"].(string))))

	w = f.do(t, "GET", "/api/v1/tenant/domain", nil, bearer(domainsKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DomainStatusActive, data(t, w)["status"])

	w = f.do(t, "GET", "http://pay.acme.com/api/v1/portal/tenant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", data(t, w)["slug"])

	w = f.do(t, "GET", "/api/v1/portal/lookup-domain?domain=pay.acme.com:443", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/api/v1/tenant/domain/events", nil, bearer(domainsKey))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "DELETE", "/api/v1/tenant/domain", nil, bearer(domainsKey))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "http://pay.acme.com/api/v1/portal/tenant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LoginFlow(t *testing.T) {
	f := newFixture(t)
	host := "http://acme." + baseDomain

	w := f.do(t, "POST", host+"/api/v1/portal/auth/request-code", map[string]string{"email": "Ada@Example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	code := f.outbox.code("ada@example.com")
	require.Len(t, code, 6)

	w = f.do(t, "POST", host+"/api/v1/portal/auth/verify-code", map[string]string{"email": "ada@example.com", "code": code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	sess := cookies[0]

	w = f.do(t, "GET", host+"/api/v1/portal/me", nil, withCookie(sess))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", data(t, w)["email"])

	// The code is single use.
	w = f.do(t, "POST", host+"/api/v1/portal/auth/verify-code", map[string]string{"email": "ada@example.com", "code": code})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CODE", errCode(t, w))

	// Sessions do not cross tenants.
	w = f.do(t, "GET", "http://globex."+baseDomain+"/api/v1/portal/me", nil, withCookie(sess))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "POST", host+"/api/v1/portal/auth/logout", nil, withCookie(sess))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", host+"/api/v1/portal/me", nil, withCookie(sess))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_UnknownEmailLooksTheSame(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "http://acme."+baseDomain+"/api/v1/portal/auth/request-code", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.outbox.code("nobody@example.com"))
	assert.Empty(t, f.store.Codes())
}

func TestRouter_RepeatRequestsThrottledAlike(t *testing.T) {
	f := newFixture(t)
	url := "http://acme." + baseDomain + "/api/v1/portal/auth/request-code"

	var bodies []string
	for _, email := range []string{"ada@example.com", "nobody@example.com"} {
		w := f.do(t, "POST", url, map[string]string{"email": email})
		require.Equal(t, http.StatusOK, w.Code, email)
		first := w.Body.String()

		w = f.do(t, "POST", url, map[string]string{"email": email})
		assert.Equal(t, http.StatusTooManyRequests, w.Code, email)
		bodies = append(bodies, first, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[2])
	assert.Equal(t, bodies[1], bodies[3])
}

func TestRouter_MetricsAdmin(t *testing.T) {
	f := newFixture(t)
	adminKey := "pg_admin00_1234567890abcdef"
	addKey(t, f.store, adminKey, f.acme.ID, models.ScopeAdmin)

	f.do(t, "GET", "http://acme."+baseDomain+"/api/v1/portal/tenant", nil)

	w := f.do(t, "GET", "/api/v1/admin/metrics", nil, bearer(adminKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, data(t, w))
}

func TestRouter_RateLimitsPortalByClient(t *testing.T) {
	st := storetest.New()
	ca := cachetest.New()
	res := resolver.New(st, ca, resolver.Config{BaseDomain: baseDomain}, nil)
	router := api.NewRouter(api.Dependencies{
		Auth:       mw.NewAuth(st),
		RateLimit:  mw.NewRateLimit(ca, 1),
		Tenant:     mw.NewTenant(res, true),
		Session:    mw.NewSession(session.NewManager(st, time.Hour, nil)),
		TrustProxy: true,
	})

	do := func(ip string) int {
		req := httptest.NewRequest("GET", "/api/v1/portal/lookup-domain?domain=x.example.com", nil)
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNotImplemented, do("203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.9"))
	assert.Equal(t, http.StatusNotImplemented, do("198.51.100.4"))
}
