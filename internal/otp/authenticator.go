// Package otp issues and verifies single-use numeric login codes scoped to
// an (email, tenant) pair.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/cache"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	codeDigits = 6
	// maxCandidates bounds how many recent codes one verification compares against.
	maxCandidates = 5
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	codeRegex  = regexp.MustCompile(`^[0-9]{6}$`)
)

type Config struct {
	TTL                 time.Duration
	IssueCooldown       time.Duration
	MaxIssuesPerHour    int
	MaxFailedVerifies   int
	LockoutWindow       time.Duration
	HashCost            int
	AutoCreateCustomers bool
	NotifyTimeout       time.Duration
	NotifyWait          time.Duration
}

// Identity is the proven (email, tenant) pair returned by a successful verification.
type Identity struct {
	Email    string
	TenantID int64
	CodeID   uuid.UUID
}

// Authenticator issues and verifies one-time codes.
type Authenticator struct {
	store    store.Store
	cache    cache.Cache
	notifier models.Notifier
	cfg      Config
	metrics  *telemetry.Metrics

	now      func() time.Time
	generate func() (string, error)
}

func NewAuthenticator(st store.Store, ca cache.Cache, notifier models.Notifier, cfg Config, metrics *telemetry.Metrics) *Authenticator {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Authenticator{
		store:    st,
		cache:    ca,
		notifier: notifier,
		cfg:      cfg,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		generate: generateCode,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email looks like a deliverable address.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// Issue creates a code for (email, tenantID) and hands it to the notifier.
//
// Known and unknown emails are throttled and answered the same way so the
// endpoint cannot be used to enumerate accounts. Unknown customers get no code
// unless customers are created on first login. Delivery failures are logged,
// never returned.
func (a *Authenticator) Issue(ctx context.Context, email string, tenantID int64) error {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		a.metrics.CodeIssued(ctx, "invalid")
		return fmt.Errorf("%w: invalid email address", models.ErrInvalid)
	}

	tenant, err := a.store.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("loading tenant: %w", err)
	}

	now := a.now()
	if err := a.throttle(ctx, tenantID, email, now); err != nil {
		a.metrics.CodeIssued(ctx, "throttled")
		return err
	}

	code, err := a.generate()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}
	// Hashed before the customer lookup so both paths pay the bcrypt cost.
	hash, err := bcrypt.GenerateFromPassword([]byte(code), a.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("hashing code: %w", err)
	}

	if !a.cfg.AutoCreateCustomers {
		if _, err := a.store.GetCustomerByEmail(ctx, tenantID, email); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.Info("login code requested for unknown customer", "tenant_id", tenantID)
				a.metrics.CodeIssued(ctx, "unknown_customer")
				return nil
			}
			return fmt.Errorf("loading customer: %w", err)
		}
	}

	otc := &models.OneTimeCode{
		ID:        uuid.New(),
		Email:     email,
		TenantID:  tenantID,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.TTL),
	}
	if err := a.store.CreateOneTimeCode(ctx, otc); err != nil {
		return fmt.Errorf("storing code: %w", err)
	}

	if !a.dispatch(ctx, email, code, tenant) {
		a.metrics.CodeIssued(ctx, "delivery_failed")
		return nil
	}
	a.metrics.CodeIssued(ctx, "issued")
	return nil
}

// throttle enforces the per-pair cooldown and hourly cap. Redis is authoritative;
// when it is unavailable the stored codes are counted instead.
func (a *Authenticator) throttle(ctx context.Context, tenantID int64, email string, now time.Time) error {
	if a.cfg.IssueCooldown > 0 {
		ok, err := a.cache.SetNX(ctx, cache.IssueCooldownKey(tenantID, email), []byte("1"), a.cfg.IssueCooldown)
		if err != nil {
			slog.Warn("cooldown check fell back to database", "tenant_id", tenantID, "error", err)
			recent, err := a.store.ListRecentOneTimeCodes(ctx, tenantID, email, 1)
			if err != nil {
				return fmt.Errorf("checking cooldown: %w", err)
			}
			ok = len(recent) == 0 || now.Sub(recent[0].CreatedAt) >= a.cfg.IssueCooldown
		}
		if !ok {
			return fmt.Errorf("%w: wait before requesting another code", models.ErrThrottled)
		}
	}

	if a.cfg.MaxIssuesPerHour > 0 {
		n, err := a.cache.IncrWithExpiry(ctx, cache.IssueCountKey(tenantID, email), time.Hour)
		if err != nil {
			slog.Warn("issue cap check fell back to database", "tenant_id", tenantID, "error", err)
			count, err := a.store.CountOneTimeCodesSince(ctx, tenantID, email, now.Add(-time.Hour))
			if err != nil {
				return fmt.Errorf("checking issue cap: %w", err)
			}
			n = int64(count) + 1
		}
		if n > int64(a.cfg.MaxIssuesPerHour) {
			return fmt.Errorf("%w: too many codes requested", models.ErrThrottled)
		}
	}
	return nil
}

// dispatch sends in the background under NotifyTimeout and waits at most NotifyWait
// for the outcome. It reports false only when the notifier failed within the wait.
func (a *Authenticator) dispatch(ctx context.Context, email, code string, tenant *models.Tenant) bool {
	result := make(chan error, 1)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), a.cfg.NotifyTimeout)
		defer cancel()
		err := a.notifier.SendCode(sendCtx, email, code, tenant)
		if err != nil {
			slog.Error("sending login code", "tenant_id", tenant.ID, "notifier", a.notifier.Name(), "error", err)
		}
		result <- err
	}()

	wait := time.NewTimer(a.cfg.NotifyWait)
	defer wait.Stop()
	select {
	case err := <-result:
		return err == nil
	case <-wait.C:
		slog.Info("login code delivery still in progress", "tenant_id", tenant.ID)
		return true
	case <-ctx.Done():
		return true
	}
}

// Verify checks code against the most recent codes for (email, tenantID) and
// consumes the match. Exactly one of several concurrent verifications of the
// same code succeeds; the rest get models.ErrAlreadyUsed.
func (a *Authenticator) Verify(ctx context.Context, email string, tenantID int64, code string) (*Identity, error) {
	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)

	if locked, err := a.lockedOut(ctx, tenantID, email); err != nil {
		return nil, err
	} else if locked {
		a.metrics.CodeVerified(ctx, "locked")
		return nil, fmt.Errorf("%w: too many failed attempts", models.ErrThrottled)
	}

	if !codeRegex.MatchString(code) || !ValidEmail(email) {
		a.recordFailure(ctx, tenantID, email)
		a.metrics.CodeVerified(ctx, "invalid")
		return nil, models.ErrInvalid
	}

	candidates, err := a.store.ListRecentOneTimeCodes(ctx, tenantID, email, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("loading codes: %w", err)
	}

	now := a.now()
	for _, c := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
			continue
		}
		if c.Used {
			a.metrics.CodeVerified(ctx, "already_used")
			return nil, models.ErrAlreadyUsed
		}
		if c.Expired(now) {
			a.metrics.CodeVerified(ctx, "expired")
			return nil, models.ErrExpired
		}
		if err := a.store.MarkOneTimeCodeUsed(ctx, c.ID, now); err != nil {
			if errors.Is(err, store.ErrStale) {
				a.metrics.CodeVerified(ctx, "already_used")
				return nil, models.ErrAlreadyUsed
			}
			return nil, fmt.Errorf("consuming code: %w", err)
		}
		if err := a.cache.Delete(ctx, cache.VerifyFailuresKey(tenantID, email)); err != nil {
			slog.Warn("clearing verify failures", "tenant_id", tenantID, "error", err)
		}
		a.metrics.CodeVerified(ctx, "ok")
		return &Identity{Email: email, TenantID: tenantID, CodeID: c.ID}, nil
	}

	a.recordFailure(ctx, tenantID, email)
	a.metrics.CodeVerified(ctx, "invalid")
	return nil, models.ErrInvalid
}

func (a *Authenticator) lockedOut(ctx context.Context, tenantID int64, email string) (bool, error) {
	if a.cfg.MaxFailedVerifies <= 0 {
		return false, nil
	}
	n, ok, err := a.cache.GetInt(ctx, cache.VerifyFailuresKey(tenantID, email))
	if err != nil {
		// Fail open; a valid code is still required.
		slog.Warn("reading verify failures", "tenant_id", tenantID, "error", err)
		return false, nil
	}
	return ok && n >= int64(a.cfg.MaxFailedVerifies), nil
}

func (a *Authenticator) recordFailure(ctx context.Context, tenantID int64, email string) {
	if a.cfg.MaxFailedVerifies <= 0 {
		return
	}
	window := a.cfg.LockoutWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	if _, err := a.cache.IncrWithExpiry(ctx, cache.VerifyFailuresKey(tenantID, email), window); err != nil {
		slog.Warn("recording verify failure", "tenant_id", tenantID, "error", err)
	}
}

// generateCode returns a uniformly distributed zero-padded decimal code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
