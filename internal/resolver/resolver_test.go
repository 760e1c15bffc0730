package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/cache"
	"github.com/kiranshivaraju/portalgate/internal/cache/cachetest"
	"github.com/kiranshivaraju/portalgate/internal/store/storetest"
	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseDomain = "portal.billing.test"

type recordingHinter struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (h *recordingHinter) Hint(id uuid.UUID) {
	h.mu.Lock()
	h.ids = append(h.ids, id)
	h.mu.Unlock()
}

func (h *recordingHinter) hints() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uuid.UUID(nil), h.ids...)
}

func newTenant(t *testing.T, st *storetest.MemoryStore, slug string, enabled bool) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Slug: slug, Name: slug + " Inc", PortalEnabled: enabled}
	require.NoError(t, st.CreateTenant(context.Background(), tenant))
	return tenant
}

func claimDomain(t *testing.T, st *storetest.MemoryStore, tenantID int64, host, status string) *models.CustomHostname {
	t.Helper()
	ctx := context.Background()
	rec := &models.CustomHostname{TenantID: tenantID, Hostname: host, TargetCNAME: "edge." + baseDomain, Status: models.HostnameStatusRequested}
	require.NoError(t, st.CreateCustomHostname(ctx, rec, "requested"))
	path := map[string][]string{
		models.HostnameStatusRequested:           nil,
		models.HostnameStatusPendingVerification: {models.HostnameStatusPendingVerification},
		models.HostnameStatusActive:              {models.HostnameStatusPendingVerification, models.HostnameStatusActive},
		models.HostnameStatusFailed:              {models.HostnameStatusFailed},
	}[status]
	from := models.HostnameStatusRequested
	for _, to := range path {
		updated, err := st.TransitionCustomHostname(ctx, rec.ID, from, to, "test")
		require.NoError(t, err)
		rec, from = updated, to
	}
	return rec
}

func newResolver(st *storetest.MemoryStore, ca cache.Cache, ttl time.Duration) *Resolver {
	return New(st, ca, Config{BaseDomain: baseDomain, ReservedSlugs: []string{"www", "api"}, CacheTTL: ttl}, nil)
}

func TestResolve_Slug(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	r := newResolver(st, nil, 0)

	tc, err := r.Resolve(context.Background(), "ACME.portal.billing.test:443")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.TenantID)
	assert.Equal(t, "acme", tc.Slug)
	assert.Equal(t, "acme.portal.billing.test", tc.Hostname)
	assert.Equal(t, "/portal/acme", tc.PortalPath)
	assert.Equal(t, models.ResolvedViaSlug, tc.Via)
}

func TestResolve_SlugTrailingDot(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "acme", true)
	r := newResolver(st, nil, 0)

	_, err := r.Resolve(context.Background(), "acme.portal.billing.test.")
	assert.NoError(t, err)
}

func TestResolve_SlugNotFound(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "disabled", false)
	newTenant(t, st, "www", true)
	r := newResolver(st, nil, 0)

	tests := []struct {
		name string
		host string
	}{
		{"unknown slug", "nobody.portal.billing.test"},
		{"portal disabled", "disabled.portal.billing.test"},
		{"reserved slug", "www.portal.billing.test"},
		{"base domain", "portal.billing.test"},
		{"nested label", "a.acme.portal.billing.test"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := r.Resolve(context.Background(), tt.host)
			assert.ErrorIs(t, err, models.ErrNotFound)
			assert.Nil(t, tc)
		})
	}
}

func TestResolve_ActiveCustomDomain(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusActive)
	r := newResolver(st, nil, 0)

	tc, err := r.Resolve(context.Background(), "Billing.Acme.com:8443")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.TenantID)
	assert.Equal(t, models.ResolvedViaCustomDomain, tc.Via)
	assert.Equal(t, "billing.acme.com", tc.Hostname)
}

func TestResolve_CustomDomainNotActive(t *testing.T) {
	for _, status := range []string{models.HostnameStatusPendingVerification, models.HostnameStatusFailed, models.HostnameStatusRequested} {
		t.Run(status, func(t *testing.T) {
			st := storetest.New()
			tenant := newTenant(t, st, "acme", true)
			claimDomain(t, st, tenant.ID, "billing.acme.com", status)
			r := newResolver(st, nil, 0)

			_, err := r.Resolve(context.Background(), "billing.acme.com")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestResolve_ActiveDomainPortalDisabled(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", false)
	claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusActive)
	r := newResolver(st, nil, 0)

	_, err := r.Resolve(context.Background(), "billing.acme.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolve_PendingDomainHintsProvisioner(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	rec := claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusPendingVerification)
	r := newResolver(st, nil, 0)
	h := &recordingHinter{}
	r.SetHinter(h)

	_, err := r.Resolve(context.Background(), "billing.acme.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, []uuid.UUID{rec.ID}, h.hints())
}

func TestResolve_FailedDomainDoesNotHint(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusFailed)
	r := newResolver(st, nil, 0)
	h := &recordingHinter{}
	r.SetHinter(h)

	_, _ = r.Resolve(context.Background(), "billing.acme.com")
	assert.Empty(t, h.hints())
}

func TestResolve_StoreErrorDegradesToNotFound(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "acme", true)
	st.SetErr(errors.New("connection refused"))
	r := newResolver(st, nil, 0)

	_, err := r.Resolve(context.Background(), "acme.portal.billing.test")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolve_CachesPositiveResults(t *testing.T) {
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusActive)
	ca := cachetest.New()
	r := newResolver(st, ca, 30*time.Second)

	_, err := r.Resolve(context.Background(), "billing.acme.com")
	require.NoError(t, err)
	assert.True(t, ca.Has(cache.ResolveKey("billing.acme.com")))

	// Served from cache while the database is unavailable.
	st.SetErr(errors.New("down"))
	tc, err := r.Resolve(context.Background(), "billing.acme.com")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.TenantID)
}

func TestResolve_DoesNotCacheNotFound(t *testing.T) {
	st := storetest.New()
	ca := cachetest.New()
	r := newResolver(st, ca, 30*time.Second)

	_, err := r.Resolve(context.Background(), "late.portal.billing.test")
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, ca.Has(cache.ResolveKey("late.portal.billing.test")))

	newTenant(t, st, "late", true)
	_, err = r.Resolve(context.Background(), "late.portal.billing.test")
	assert.NoError(t, err)
}

func TestResolve_InvalidateDropsCachedEntry(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	tenant := newTenant(t, st, "acme", true)
	rec := claimDomain(t, st, tenant.ID, "billing.acme.com", models.HostnameStatusActive)
	ca := cachetest.New()
	r := newResolver(st, ca, 30*time.Second)

	_, err := r.Resolve(ctx, "billing.acme.com")
	require.NoError(t, err)

	_, err = st.TransitionCustomHostname(ctx, rec.ID, models.HostnameStatusActive, models.HostnameStatusRemovedPending, "removed")
	require.NoError(t, err)
	r.Invalidate(ctx, "Billing.Acme.com")

	_, err = r.Resolve(ctx, "billing.acme.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// racingStore runs during before each custom domain lookup returns.
type racingStore struct {
	*storetest.MemoryStore
	during func()
}

func (s *racingStore) GetTenantByCustomDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	t, err := s.MemoryStore.GetTenantByCustomDomain(ctx, domain)
	if s.during != nil {
		s.during()
		s.during = nil
	}
	return t, err
}

func TestResolve_InvalidateDuringLookupSkipsCache(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	tenant := newTenant(t, mem, "acme", true)
	rec := claimDomain(t, mem, tenant.ID, "billing.acme.com", models.HostnameStatusActive)
	ca := cachetest.New()
	st := &racingStore{MemoryStore: mem}
	r := New(st, ca, Config{BaseDomain: baseDomain, CacheTTL: time.Minute}, nil)

	st.during = func() {
		_, err := mem.TransitionCustomHostname(ctx, rec.ID, models.HostnameStatusActive, models.HostnameStatusRemovedPending, "removed")
		require.NoError(t, err)
		r.Invalidate(ctx, "billing.acme.com")
	}

	// The lookup read the active row before the transition landed.
	_, err := r.Resolve(ctx, "billing.acme.com")
	require.NoError(t, err)
	assert.False(t, ca.Has(cache.ResolveKey("billing.acme.com")))

	_, err = r.Resolve(ctx, "billing.acme.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolve_ZeroTTLDisablesCache(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "acme", true)
	ca := cachetest.New()
	r := newResolver(st, ca, 0)

	_, err := r.Resolve(context.Background(), "acme.portal.billing.test")
	require.NoError(t, err)
	assert.False(t, ca.Has(cache.ResolveKey("acme.portal.billing.test")))
}

func TestResolve_CacheErrorFallsBackToStore(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "acme", true)
	ca := cachetest.New()
	ca.SetErr(errors.New("redis down"))
	r := newResolver(st, ca, 30*time.Second)

	_, err := r.Resolve(context.Background(), "acme.portal.billing.test")
	assert.NoError(t, err)
}

func TestResolve_Concurrent(t *testing.T) {
	st := storetest.New()
	newTenant(t, st, "acme", true)
	r := newResolver(st, cachetest.New(), 10*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "acme.portal.billing.test")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
