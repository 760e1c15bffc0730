// Package resolver maps inbound hostnames to the tenant whose portal they serve.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/cache"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/hostname"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// Config controls slug routing and result caching.
type Config struct {
	BaseDomain    string
	ReservedSlugs []string
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
}

// Hinter is told about custom hostnames that were looked up while still pending,
// so their verification can be checked ahead of schedule. Hint must not block.
type Hinter interface {
	Hint(recordID uuid.UUID)
}

// Resolver answers "which tenant does this hostname belong to".
type Resolver struct {
	store   store.Store
	cache   cache.Cache
	cfg     Config
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	hinter Hinter

	// generation is bumped by Invalidate. A lookup that overlapped an
	// invalidation does not cache its result.
	generation atomic.Uint64
}

// New creates a Resolver. ca may be nil when caching is disabled.
func New(st store.Store, ca cache.Cache, cfg Config, metrics *telemetry.Metrics) *Resolver {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if cfg.CacheTTL <= 0 {
		ca = nil
	}
	return &Resolver{store: st, cache: ca, cfg: cfg, metrics: metrics}
}

// SetHinter installs the early-reconcile hook. It is set after construction
// because the provisioning worker itself depends on the resolver.
func (r *Resolver) SetHinter(h Hinter) {
	r.mu.Lock()
	r.hinter = h
	r.mu.Unlock()
}

// Resolve returns the routing context for raw (a Host header value, port allowed).
// Every failure, including storage errors, is reported as models.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.TenantContext, error) {
	host := hostname.Normalize(raw)
	if host == "" {
		r.metrics.Resolved(ctx, "none", "not_found")
		return nil, models.ErrNotFound
	}

	if tc, ok := r.cached(ctx, host); ok {
		r.metrics.Resolved(ctx, tc.Via, "cache_hit")
		return tc, nil
	}
	gen := r.generation.Load()

	var (
		tc  *models.TenantContext
		via string
		err error
	)
	if slug, ok := hostname.SlugFromHost(host, r.cfg.BaseDomain); ok {
		via = models.ResolvedViaSlug
		tc, err = r.bySlug(ctx, host, slug)
	} else {
		via = models.ResolvedViaCustomDomain
		tc, err = r.byCustomDomain(ctx, host)
	}

	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("resolving hostname", "hostname", host, "error", err)
			r.metrics.Resolved(ctx, via, "error")
		} else {
			r.metrics.Resolved(ctx, via, "not_found")
		}
		return nil, models.ErrNotFound
	}

	r.remember(ctx, host, tc, gen)
	r.metrics.Resolved(ctx, via, "found")
	return tc, nil
}

func (r *Resolver) bySlug(ctx context.Context, host, slug string) (*models.TenantContext, error) {
	if slices.Contains(r.cfg.ReservedSlugs, slug) {
		return nil, models.ErrNotFound
	}
	t, err := r.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, notFound(err)
	}
	if !t.PortalEnabled {
		return nil, models.ErrNotFound
	}
	return models.NewTenantContext(t, host, models.ResolvedViaSlug), nil
}

func (r *Resolver) byCustomDomain(ctx context.Context, host string) (*models.TenantContext, error) {
	if r.cfg.BaseDomain != "" && hostname.IsWithin(host, r.cfg.BaseDomain) {
		return nil, models.ErrNotFound
	}
	t, err := r.store.GetTenantByCustomDomain(ctx, host)
	if err != nil {
		return nil, notFound(err)
	}
	switch t.CustomDomainStatus {
	case models.DomainStatusActive:
	case models.DomainStatusPendingVerification:
		r.hint(ctx, host)
		return nil, models.ErrNotFound
	default:
		return nil, models.ErrNotFound
	}
	if !t.PortalEnabled {
		return nil, models.ErrNotFound
	}
	return models.NewTenantContext(t, host, models.ResolvedViaCustomDomain), nil
}

func (r *Resolver) hint(ctx context.Context, host string) {
	r.mu.RLock()
	h := r.hinter
	r.mu.RUnlock()
	if h == nil {
		return
	}
	rec, err := r.store.GetCustomHostnameByHostname(ctx, host)
	if err != nil {
		return
	}
	if rec.Status == models.HostnameStatusRequested || rec.Status == models.HostnameStatusPendingVerification {
		h.Hint(rec.ID)
	}
}

// Invalidate drops cached results for the given hostnames. It is called
// synchronously on every custom hostname status transition.
func (r *Resolver) Invalidate(ctx context.Context, hosts ...string) {
	if r.cache == nil || len(hosts) == 0 {
		return
	}
	r.generation.Add(1)
	keys := make([]string, 0, len(hosts))
	for _, h := range hosts {
		keys = append(keys, cache.ResolveKey(hostname.Normalize(h)))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("invalidating resolver cache", "hosts", hosts, "error", err)
	}
}

func (r *Resolver) cached(ctx context.Context, host string) (*models.TenantContext, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, cache.ResolveKey(host))
	if err != nil || !ok {
		return nil, false
	}
	var tc models.TenantContext
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, false
	}
	return &tc, true
}

// remember caches positive results only; a miss always re-reads the database.
// Results read before the latest Invalidate are dropped. Other instances can
// still cache a stale result for at most CacheTTL.
func (r *Resolver) remember(ctx context.Context, host string, tc *models.TenantContext, gen uint64) {
	if r.cache == nil || r.generation.Load() != gen {
		return
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, cache.ResolveKey(host), data, r.cfg.CacheTTL)
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return models.ErrNotFound
	}
	return err
}
