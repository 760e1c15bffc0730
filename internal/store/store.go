package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStale is returned when a conditional write finds the row no longer in the expected state.
var ErrStale = errors.New("row changed concurrently")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenantByID(ctx context.Context, id int64) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	GetTenantByCustomDomain(ctx context.Context, domain string) (*models.Tenant, error)

	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	GetCustomerByEmail(ctx context.Context, tenantID int64, email string) (*models.Customer, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateCustomHostname(ctx context.Context, h *models.CustomHostname, reason string) error
	GetCustomHostname(ctx context.Context, id uuid.UUID) (*models.CustomHostname, error)
	GetCustomHostnameByTenant(ctx context.Context, tenantID int64) (*models.CustomHostname, error)
	GetCustomHostnameByHostname(ctx context.Context, hostname string) (*models.CustomHostname, error)
	ListCustomHostnamesByTenant(ctx context.Context, tenantID int64) ([]*models.CustomHostname, error)
	ListDueCustomHostnames(ctx context.Context, now time.Time, limit int) ([]*models.CustomHostname, error)
	TransitionCustomHostname(ctx context.Context, id uuid.UUID, from, to, reason string, opts ...HostnameUpdateOption) (*models.CustomHostname, error)
	PurgeCustomHostname(ctx context.Context, id uuid.UUID, reason string) error
	ListHostnameEvents(ctx context.Context, tenantID int64, limit int) ([]*models.HostnameEvent, error)

	CreateOneTimeCode(ctx context.Context, code *models.OneTimeCode) error
	ListRecentOneTimeCodes(ctx context.Context, tenantID int64, email string, limit int) ([]*models.OneTimeCode, error)
	CountOneTimeCodesSince(ctx context.Context, tenantID int64, email string, since time.Time) (int, error)
	MarkOneTimeCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateSession(ctx context.Context, s *models.CustomerSession) error
	GetSession(ctx context.Context, tokenHash string) (*models.CustomerSession, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// ApplyHostnameOptions folds opts into a single update description.
func ApplyHostnameOptions(opts ...HostnameUpdateOption) *HostnameUpdate {
	p := &HostnameUpdate{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HostnameUpdate is the set of extra columns collected from HostnameUpdateOptions.
type HostnameUpdate struct {
	ProviderRecordID  *string
	VerificationToken *string
	VerificationName  *string
	DCVTarget         *string
	LastError         *string
	ClearLastError    bool
	Attempts          *int
	NextCheckAt       *time.Time
	ClearNextCheckAt  bool
	LastCheckedAt     *time.Time
	StartedAt         *time.Time
}

// HostnameUpdateOption sets additional columns during a status transition.
type HostnameUpdateOption func(*HostnameUpdate)

// WithRegistration stores the provider-side identifiers returned at registration.
func WithRegistration(reg models.HostnameRegistration) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.ProviderRecordID = &reg.ProviderID
		p.VerificationToken = &reg.VerificationValue
		p.VerificationName = &reg.VerificationName
		if reg.DCVTarget != "" {
			p.DCVTarget = &reg.DCVTarget
		}
	}
}

func WithLastError(msg string) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.LastError = &msg
		p.ClearLastError = false
	}
}

func WithClearedError() HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.LastError = nil
		p.ClearLastError = true
	}
}

func WithAttempts(n int) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.Attempts = &n
	}
}

func WithNextCheckAt(t time.Time) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.NextCheckAt = &t
		p.ClearNextCheckAt = false
	}
}

// WithNoNextCheck removes the record from the reconcile schedule.
func WithNoNextCheck() HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.NextCheckAt = nil
		p.ClearNextCheckAt = true
	}
}

func WithLastCheckedAt(t time.Time) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.LastCheckedAt = &t
	}
}

// WithStartedAt restarts the verification window measured against the max age.
func WithStartedAt(t time.Time) HostnameUpdateOption {
	return func(p *HostnameUpdate) {
		p.StartedAt = &t
	}
}
