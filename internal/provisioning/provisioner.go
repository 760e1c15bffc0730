// Package provisioning drives custom hostnames through verification and activation
// at the edge provider, and keeps the tenant routing projection in step.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/hostname"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// Config holds reservation rules, DNS targets, and the reconcile schedule.
type Config struct {
	BaseDomain      string
	ReservedDomains []string
	CNAMETarget     string
	DCVTarget       string
	ProviderTimeout time.Duration
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	MaxAttempts     int
	MaxAge          time.Duration
}

// Invalidator drops cached routing results. The resolver satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, hosts ...string)
}

// Provisioner owns the custom hostname state machine.
type Provisioner struct {
	store       store.Store
	provider    models.HostnameProvider
	invalidator Invalidator
	cfg         Config
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// NewProvisioner creates a Provisioner. invalidator and metrics may be nil.
func NewProvisioner(st store.Store, provider models.HostnameProvider, invalidator Invalidator, cfg Config, metrics *telemetry.Metrics) *Provisioner {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 40
	}
	return &Provisioner{
		store:       st,
		provider:    provider,
		invalidator: invalidator,
		cfg:         cfg,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Request claims hostname for the tenant and registers it with the provider.
//
// The local insert happens first; its unique index decides cross-tenant races.
// A provider outage does not fail the request: the record stays requested and
// the worker retries registration.
func (p *Provisioner) Request(ctx context.Context, tenantID int64, raw string) (*DomainStatus, error) {
	host := hostname.Normalize(raw)
	if err := hostname.ValidateClaim(host, p.cfg.BaseDomain, p.cfg.ReservedDomains); err != nil {
		return nil, err
	}
	if _, err := p.store.GetTenantByID(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading tenant: %w", err)
	}

	existing, err := p.store.GetCustomHostnameByTenant(ctx, tenantID)
	switch {
	case err == nil:
		return p.requestExisting(ctx, existing, host)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading custom hostname: %w", err)
	}

	now := p.now()
	rec := &models.CustomHostname{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Hostname:    host,
		TargetCNAME: p.cfg.CNAMETarget,
		Status:      models.HostnameStatusRequested,
		NextCheckAt: &now,
	}
	if p.cfg.DCVTarget != "" {
		dcv := p.cfg.DCVTarget
		rec.DCVTarget = &dcv
	}
	if err := p.store.CreateCustomHostname(ctx, rec, "requested by tenant"); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return p.resolveClaimRace(ctx, tenantID, host)
		}
		return nil, fmt.Errorf("creating custom hostname: %w", err)
	}
	p.invalidate(ctx, host)
	p.metrics.Transition(ctx, models.DomainStatusNone, models.HostnameStatusRequested)
	slog.Info("custom hostname requested", "tenant_id", tenantID, "hostname", host, "record_id", rec.ID)

	rec, err = p.register(ctx, rec)
	if err != nil {
		return nil, err
	}
	return newDomainStatus(rec), nil
}

func (p *Provisioner) requestExisting(ctx context.Context, existing *models.CustomHostname, host string) (*DomainStatus, error) {
	if existing.Hostname != host {
		return nil, fmt.Errorf("%w: tenant already has custom domain %s; remove it first", models.ErrConflict, existing.Hostname)
	}
	if existing.Status == models.HostnameStatusFailed {
		return p.retry(ctx, existing, "re-requested by tenant")
	}
	return newDomainStatus(existing), nil
}

// resolveClaimRace explains a unique violation on insert.
func (p *Provisioner) resolveClaimRace(ctx context.Context, tenantID int64, host string) (*DomainStatus, error) {
	owner, err := p.store.GetCustomHostnameByHostname(ctx, host)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The competing record was purged between our insert and this read.
			return nil, fmt.Errorf("%w: hostname claim changed concurrently, try again", models.ErrConflict)
		}
		return nil, fmt.Errorf("loading conflicting hostname: %w", err)
	}
	if owner.TenantID != tenantID {
		slog.Warn("custom hostname already claimed", "tenant_id", tenantID, "hostname", host)
		return nil, fmt.Errorf("%w: hostname is already in use", models.ErrConflict)
	}
	if owner.Status == models.HostnameStatusRemovedPending {
		return nil, fmt.Errorf("%w: previous removal of this hostname is still in progress", models.ErrConflict)
	}
	return newDomainStatus(owner), nil
}

// Status returns the tenant's live custom hostname or models.ErrNotFound.
func (p *Provisioner) Status(ctx context.Context, tenantID int64) (*DomainStatus, error) {
	rec, err := p.store.GetCustomHostnameByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading custom hostname: %w", err)
	}
	return newDomainStatus(rec), nil
}

// Events lists the tenant's provisioning audit trail, newest first.
func (p *Provisioner) Events(ctx context.Context, tenantID int64, limit int) ([]*models.HostnameEvent, error) {
	return p.store.ListHostnameEvents(ctx, tenantID, limit)
}

// Remove stops routing for the tenant's custom hostname immediately, then deletes it
// at the provider and purges the local record. It reports whether the purge finished;
// when the provider call fails the record stays removed_pending for the worker.
func (p *Provisioner) Remove(ctx context.Context, tenantID int64) (bool, error) {
	rec, err := p.store.GetCustomHostnameByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, models.ErrNotFound
		}
		return false, fmt.Errorf("loading custom hostname: %w", err)
	}

	now := p.now()
	rec, err = p.transition(ctx, rec, models.HostnameStatusRemovedPending, "removed by tenant",
		store.WithAttempts(0), store.WithNextCheckAt(now), store.WithClearedError())
	if err != nil {
		return false, err
	}

	// Routing already stopped; the worker retries whatever cleanup left behind.
	purged, _ := p.cleanup(ctx, rec)
	return purged, nil
}

// Retry moves a failed record back into verification. Records the provider never
// accepted go back to requested so registration is attempted again.
func (p *Provisioner) Retry(ctx context.Context, tenantID int64) (*DomainStatus, error) {
	rec, err := p.store.GetCustomHostnameByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading custom hostname: %w", err)
	}
	if rec.Status != models.HostnameStatusFailed {
		return nil, fmt.Errorf("%w: only failed domains can be retried (status %s)", models.ErrConflict, rec.Status)
	}
	return p.retry(ctx, rec, "operator retry")
}

func (p *Provisioner) retry(ctx context.Context, rec *models.CustomHostname, reason string) (*DomainStatus, error) {
	to := models.HostnameStatusPendingVerification
	if rec.ProviderRecordID == nil {
		to = models.HostnameStatusRequested
	}
	now := p.now()
	rec, err := p.transition(ctx, rec, to, reason,
		store.WithAttempts(0), store.WithNextCheckAt(now), store.WithClearedError(), store.WithStartedAt(now))
	if err != nil {
		return nil, err
	}
	if to == models.HostnameStatusRequested {
		if rec, err = p.register(ctx, rec); err != nil {
			return nil, err
		}
	}
	return newDomainStatus(rec), nil
}

// Reconcile advances one record by a single provider round trip.
// Records that are already terminal, or that another worker just moved, are left alone.
func (p *Provisioner) Reconcile(ctx context.Context, id uuid.UUID) error {
	rec, err := p.store.GetCustomHostname(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading custom hostname: %w", err)
	}

	switch rec.Status {
	case models.HostnameStatusRequested:
		_, err = p.register(ctx, rec)
	case models.HostnameStatusPendingVerification:
		_, err = p.check(ctx, rec)
	case models.HostnameStatusRemovedPending:
		_, err = p.cleanup(ctx, rec)
	}
	return err
}

// register calls the provider for a requested record.
func (p *Provisioner) register(ctx context.Context, rec *models.CustomHostname) (*models.CustomHostname, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	reg, err := p.provider.Register(callCtx, rec.Hostname)
	cancel()
	now := p.now()

	switch {
	case err == nil:
		p.metrics.ProviderCall(ctx, "register", "ok")
		opts := []store.HostnameUpdateOption{
			store.WithRegistration(reg), store.WithAttempts(0), store.WithClearedError(),
			store.WithLastCheckedAt(now), store.WithNextCheckAt(now.Add(p.cfg.BaseBackoff)),
		}
		return p.transitionQuiet(ctx, rec, models.HostnameStatusPendingVerification, "registered with "+p.provider.Name(), opts...)
	case errors.Is(err, models.ErrProviderRejected):
		p.metrics.ProviderCall(ctx, "register", "rejected")
		return p.transitionQuiet(ctx, rec, models.HostnameStatusFailed, "rejected by provider",
			store.WithLastError(p.remediation(rec, err.Error())), store.WithLastCheckedAt(now), store.WithNoNextCheck())
	default:
		p.metrics.ProviderCall(ctx, "register", "transient")
		slog.Warn("custom hostname registration failed", "record_id", rec.ID, "hostname", rec.Hostname, "error", err)
		return p.backoff(ctx, rec, err.Error(), now)
	}
}

// check reads provider status for a pending record. Activation requires the
// domain and the certificate to be ready in the same read.
func (p *Provisioner) check(ctx context.Context, rec *models.CustomHostname) (*models.CustomHostname, error) {
	if rec.ProviderRecordID == nil {
		return p.register(ctx, rec)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	st, err := p.provider.Status(callCtx, *rec.ProviderRecordID)
	cancel()
	now := p.now()

	switch {
	case err != nil && errors.Is(err, models.ErrProviderRejected):
		p.metrics.ProviderCall(ctx, "status", "rejected")
		return p.fail(ctx, rec, err.Error(), now)
	case err != nil:
		p.metrics.ProviderCall(ctx, "status", "transient")
		slog.Warn("custom hostname status check failed", "record_id", rec.ID, "hostname", rec.Hostname, "error", err)
		return p.backoff(ctx, rec, err.Error(), now)
	}
	p.metrics.ProviderCall(ctx, "status", "ok")

	switch {
	case st.Rejected:
		return p.fail(ctx, rec, st.LastError, now)
	case st.DomainVerified && st.CertificateIssued:
		return p.transitionQuiet(ctx, rec, models.HostnameStatusActive, "hostname verified and certificate issued",
			store.WithClearedError(), store.WithLastCheckedAt(now), store.WithNoNextCheck())
	default:
		msg := st.LastError
		if msg == "" {
			msg = progressMessage(st)
		}
		return p.backoff(ctx, rec, msg, now)
	}
}

// backoff schedules the next attempt, or fails the record once attempts or age run out.
func (p *Provisioner) backoff(ctx context.Context, rec *models.CustomHostname, msg string, now time.Time) (*models.CustomHostname, error) {
	attempts := rec.Attempts + 1
	if p.exhausted(rec, attempts, now) {
		return p.fail(ctx, rec, "verification timed out: "+msg, now)
	}
	next := now.Add(p.delay(attempts))
	return p.transitionQuiet(ctx, rec, rec.Status, "",
		store.WithAttempts(attempts), store.WithLastError(msg), store.WithLastCheckedAt(now), store.WithNextCheckAt(next))
}

func (p *Provisioner) fail(ctx context.Context, rec *models.CustomHostname, msg string, now time.Time) (*models.CustomHostname, error) {
	return p.transitionQuiet(ctx, rec, models.HostnameStatusFailed, msg,
		store.WithLastError(p.remediation(rec, msg)), store.WithLastCheckedAt(now), store.WithNoNextCheck())
}

func (p *Provisioner) exhausted(rec *models.CustomHostname, attempts int, now time.Time) bool {
	if attempts >= p.cfg.MaxAttempts {
		return true
	}
	return p.cfg.MaxAge > 0 && now.Sub(rec.StartedAt) >= p.cfg.MaxAge
}

// delay is BaseBackoff * 2^(attempts-1), capped at MaxBackoff.
func (p *Provisioner) delay(attempts int) time.Duration {
	d := p.cfg.BaseBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.cfg.MaxBackoff > 0 && d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if p.cfg.MaxBackoff > 0 && d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

// cleanup deletes the provider side of a removed record and purges it.
// It reports whether the record is gone. Store failures are logged and returned.
func (p *Provisioner) cleanup(ctx context.Context, rec *models.CustomHostname) (bool, error) {
	if rec.ProviderRecordID != nil {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		err := p.provider.Delete(callCtx, *rec.ProviderRecordID)
		cancel()
		if err != nil {
			p.metrics.ProviderCall(ctx, "delete", "error")
			slog.Warn("custom hostname provider deletion failed", "record_id", rec.ID, "hostname", rec.Hostname, "error", err)
			now := p.now()
			attempts := rec.Attempts + 1
			if _, updateErr := p.transitionQuiet(ctx, rec, models.HostnameStatusRemovedPending, "",
				store.WithAttempts(attempts), store.WithLastError(err.Error()),
				store.WithLastCheckedAt(now), store.WithNextCheckAt(now.Add(p.delay(attempts)))); updateErr != nil {
				slog.Error("scheduling custom hostname cleanup retry", "record_id", rec.ID, "hostname", rec.Hostname, "error", updateErr)
				return false, updateErr
			}
			return false, nil
		}
		p.metrics.ProviderCall(ctx, "delete", "ok")
	}

	if err := p.store.PurgeCustomHostname(ctx, rec.ID, "deleted at provider"); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("purging custom hostname", "record_id", rec.ID, "hostname", rec.Hostname, "error", err)
			return false, fmt.Errorf("purging custom hostname: %w", err)
		}
	}
	p.metrics.Transition(ctx, models.HostnameStatusRemovedPending, models.HostnameStatusRemoved)
	slog.Info("custom hostname removed", "tenant_id", rec.TenantID, "hostname", rec.Hostname, "record_id", rec.ID)
	return true, nil
}

// transition applies a status change requested by a caller; a concurrent change is a conflict.
func (p *Provisioner) transition(ctx context.Context, rec *models.CustomHostname, to, reason string, opts ...store.HostnameUpdateOption) (*models.CustomHostname, error) {
	updated, err := p.store.TransitionCustomHostname(ctx, rec.ID, rec.Status, to, reason, opts...)
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, fmt.Errorf("%w: custom hostname changed concurrently", models.ErrConflict)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("updating custom hostname: %w", err)
	}
	p.afterTransition(ctx, rec, updated)
	return updated, nil
}

// transitionQuiet is used by background paths: losing a race to another writer
// is expected and leaves the record as the winner wrote it.
func (p *Provisioner) transitionQuiet(ctx context.Context, rec *models.CustomHostname, to, reason string, opts ...store.HostnameUpdateOption) (*models.CustomHostname, error) {
	updated, err := p.store.TransitionCustomHostname(ctx, rec.ID, rec.Status, to, reason, opts...)
	if err != nil {
		if errors.Is(err, store.ErrStale) || errors.Is(err, store.ErrNotFound) {
			slog.Debug("custom hostname moved concurrently", "record_id", rec.ID, "from", rec.Status, "to", to)
			current, getErr := p.store.GetCustomHostname(ctx, rec.ID)
			if getErr != nil {
				return rec, nil
			}
			return current, nil
		}
		return nil, fmt.Errorf("updating custom hostname: %w", err)
	}
	p.afterTransition(ctx, rec, updated)
	return updated, nil
}

func (p *Provisioner) afterTransition(ctx context.Context, before, after *models.CustomHostname) {
	if before.Status == after.Status {
		return
	}
	p.invalidate(ctx, after.Hostname)
	p.metrics.Transition(ctx, before.Status, after.Status)
	slog.Info("custom hostname status changed",
		"record_id", after.ID, "tenant_id", after.TenantID, "hostname", after.Hostname,
		"from", before.Status, "to", after.Status)
}

func (p *Provisioner) invalidate(ctx context.Context, host string) {
	if p.invalidator != nil {
		p.invalidator.Invalidate(ctx, host)
	}
}

// remediation appends the DNS records the tenant is expected to publish.
func (p *Provisioner) remediation(rec *models.CustomHostname, msg string) string {
	hint := fmt.Sprintf("expected CNAME %s -> %s", rec.Hostname, rec.TargetCNAME)
	if rec.VerificationName != nil && rec.VerificationToken != nil {
		hint += fmt.Sprintf(" and TXT %s = %s", *rec.VerificationName, *rec.VerificationToken)
	}
	if msg == "" {
		return hint
	}
	return msg + " (" + hint + ")"
}

func progressMessage(st models.HostnameProviderStatus) string {
	switch {
	case !st.DomainVerified:
		return "waiting for DNS verification"
	default:
		return "waiting for certificate issuance"
	}
}
