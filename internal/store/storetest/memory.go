// Package storetest provides an in-memory store.Store for package tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// MemoryStore implements store.Store with the same uniqueness and
// compare-and-set rules as the Postgres schema.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	tenants   map[int64]*models.Tenant
	customers map[int64]*models.Customer
	apiKeys   []*models.APIKey
	hostnames map[uuid.UUID]*models.CustomHostname
	events    []*models.HostnameEvent
	codes     []*models.OneTimeCode
	sessions  map[string]*models.CustomerSession

	// Err, when set, is returned by every method. Useful for simulating outages.
	Err error
}

func New() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[int64]*models.Tenant),
		customers: make(map[int64]*models.Customer),
		hostnames: make(map[uuid.UUID]*models.CustomHostname),
		sessions:  make(map[string]*models.CustomerSession),
	}
}

func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// --- Tenants ---

func (m *MemoryStore) CreateTenant(_ context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.tenants {
		if existing.Slug == t.Slug {
			return store.ErrDuplicateKey
		}
	}
	m.nextID++
	t.ID = m.nextID
	if t.CustomDomainStatus == "" {
		t.CustomDomainStatus = models.DomainStatusNone
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

// UpdateTenant replaces a tenant row. Tests use it to toggle portal flags.
func (m *MemoryStore) UpdateTenant(t *models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tenants[t.ID] = &cp
}

func (m *MemoryStore) GetTenantByID(_ context.Context, id int64) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTenantBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) GetTenantByCustomDomain(_ context.Context, domain string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.tenants {
		if t.CustomDomain != nil && strings.EqualFold(*t.CustomDomain, domain) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- Customers ---

func (m *MemoryStore) CreateCustomer(_ context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.customers {
		if existing.TenantID == c.TenantID && strings.EqualFold(existing.Email, c.Email) {
			return store.ErrDuplicateKey
		}
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetCustomerByEmail(_ context.Context, tenantID int64, email string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, c := range m.customers {
		if c.TenantID == tenantID && strings.EqualFold(c.Email, email) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- API Keys ---

func (m *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == id {
			now := time.Now().UTC()
			k.LastUsedAt = &now
		}
	}
	return m.Err
}

func (m *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, k := range m.apiKeys {
		if k.ID == key.ID {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	m.apiKeys = append(m.apiKeys, &cp)
	return nil
}

// --- Custom Hostnames ---

func (m *MemoryStore) CreateCustomHostname(_ context.Context, h *models.CustomHostname, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.hostnames {
		if strings.EqualFold(existing.Hostname, h.Hostname) {
			return store.ErrDuplicateKey
		}
		if existing.TenantID == h.TenantID && existing.Status != models.HostnameStatusRemovedPending {
			return store.ErrDuplicateKey
		}
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	if h.StartedAt.IsZero() {
		h.StartedAt = now
	}
	cp := *h
	m.hostnames[h.ID] = &cp
	m.appendEvent(&cp, models.DomainStatusNone, h.Status, reason, now)
	m.project(&cp, h.Status, now)
	return nil
}

func (m *MemoryStore) GetCustomHostname(_ context.Context, id uuid.UUID) (*models.CustomHostname, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	h, ok := m.hostnames[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) GetCustomHostnameByTenant(_ context.Context, tenantID int64) (*models.CustomHostname, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, h := range m.hostnames {
		if h.TenantID == tenantID && h.Status != models.HostnameStatusRemovedPending {
			cp := *h
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) GetCustomHostnameByHostname(_ context.Context, hostname string) (*models.CustomHostname, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, h := range m.hostnames {
		if strings.EqualFold(h.Hostname, hostname) {
			cp := *h
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) ListCustomHostnamesByTenant(_ context.Context, tenantID int64) ([]*models.CustomHostname, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.CustomHostname
	for _, h := range m.hostnames {
		if h.TenantID == tenantID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListDueCustomHostnames(_ context.Context, now time.Time, limit int) ([]*models.CustomHostname, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.CustomHostname
	for _, h := range m.hostnames {
		switch h.Status {
		case models.HostnameStatusRequested, models.HostnameStatusPendingVerification, models.HostnameStatusRemovedPending:
		default:
			continue
		}
		if h.NextCheckAt != nil && h.NextCheckAt.After(now) {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TransitionCustomHostname(_ context.Context, id uuid.UUID, from, to, reason string, opts ...store.HostnameUpdateOption) (*models.CustomHostname, error) {
	if !store.ValidTransition(from, to) {
		return nil, fmt.Errorf("invalid custom hostname status transition: %s -> %s", from, to)
	}
	p := store.ApplyHostnameOptions(opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	h, ok := m.hostnames[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if h.Status != from {
		return nil, store.ErrStale
	}

	now := time.Now().UTC()
	h.Status = to
	h.UpdatedAt = now
	if p.ProviderRecordID != nil {
		h.ProviderRecordID = ptr(*p.ProviderRecordID)
	}
	if p.VerificationToken != nil {
		h.VerificationToken = ptr(*p.VerificationToken)
	}
	if p.VerificationName != nil {
		h.VerificationName = ptr(*p.VerificationName)
	}
	if p.DCVTarget != nil {
		h.DCVTarget = ptr(*p.DCVTarget)
	}
	if p.LastError != nil {
		h.LastError = ptr(*p.LastError)
	} else if p.ClearLastError {
		h.LastError = nil
	}
	if p.Attempts != nil {
		h.Attempts = *p.Attempts
	}
	if p.NextCheckAt != nil {
		h.NextCheckAt = ptr(*p.NextCheckAt)
	} else if p.ClearNextCheckAt {
		h.NextCheckAt = nil
	}
	if p.LastCheckedAt != nil {
		h.LastCheckedAt = ptr(*p.LastCheckedAt)
	}
	if p.StartedAt != nil {
		h.StartedAt = *p.StartedAt
	}

	if from != to {
		m.appendEvent(h, from, to, reason, now)
		m.project(h, to, now)
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) PurgeCustomHostname(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	h, ok := m.hostnames[id]
	if !ok || h.Status != models.HostnameStatusRemovedPending {
		return store.ErrNotFound
	}
	delete(m.hostnames, id)
	m.appendEvent(h, models.HostnameStatusRemovedPending, models.HostnameStatusRemoved, reason, time.Now().UTC())
	return nil
}

func (m *MemoryStore) ListHostnameEvents(_ context.Context, tenantID int64, limit int) ([]*models.HostnameEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.HostnameEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].TenantID == tenantID {
			cp := *m.events[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns every audit event in insertion order.
func (m *MemoryStore) Events() []*models.HostnameEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.HostnameEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) appendEvent(h *models.CustomHostname, from, to, reason string, at time.Time) {
	m.events = append(m.events, &models.HostnameEvent{
		ID: uuid.New(), RecordID: h.ID, TenantID: h.TenantID, Hostname: h.Hostname,
		FromStatus: from, ToStatus: to, Reason: reason, CreatedAt: at,
	})
}

func (m *MemoryStore) project(h *models.CustomHostname, status string, at time.Time) {
	t, ok := m.tenants[h.TenantID]
	if !ok {
		return
	}
	if status == models.HostnameStatusRemovedPending {
		if t.CustomDomain != nil && strings.EqualFold(*t.CustomDomain, h.Hostname) {
			t.CustomDomain = nil
			t.CustomDomainStatus = models.DomainStatusNone
		}
	} else {
		t.CustomDomain = ptr(h.Hostname)
		t.CustomDomainStatus = (&models.CustomHostname{Status: status}).PublicStatus()
	}
	t.UpdatedAt = at
}

// --- One-Time Codes ---

func (m *MemoryStore) CreateOneTimeCode(_ context.Context, code *models.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cp := *code
	m.codes = append(m.codes, &cp)
	return nil
}

func (m *MemoryStore) ListRecentOneTimeCodes(_ context.Context, tenantID int64, email string, limit int) ([]*models.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.OneTimeCode
	for _, c := range m.codes {
		if c.TenantID == tenantID && c.Email == email {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountOneTimeCodesSince(_ context.Context, tenantID int64, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	for _, c := range m.codes {
		if c.TenantID == tenantID && c.Email == email && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkOneTimeCodeUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, c := range m.codes {
		if c.ID == id {
			if c.Used {
				return store.ErrStale
			}
			c.Used = true
			c.UsedAt = ptr(at)
			return nil
		}
	}
	return store.ErrStale
}

// Codes returns every stored code in insertion order.
func (m *MemoryStore) Codes() []*models.OneTimeCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.OneTimeCode, len(m.codes))
	copy(out, m.codes)
	return out
}

// --- Sessions ---

func (m *MemoryStore) CreateSession(_ context.Context, s *models.CustomerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.sessions[s.TokenHash]; ok {
		return store.ErrDuplicateKey
	}
	cp := *s
	m.sessions[s.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, tokenHash string) (*models.CustomerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.sessions, tokenHash)
	return nil
}

func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for k, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored sessions.
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SetSessionExpiry rewrites the expiry of a stored session.
func (m *MemoryStore) SetSessionExpiry(tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return errors.New("session not found")
	}
	s.ExpiresAt = at
	return nil
}

func ptr[T any](v T) *T { return &v }

var _ store.Store = (*MemoryStore)(nil)
