// Package session manages server-side portal sessions. Clients hold a random
// bearer token; only its SHA-256 digest is stored.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

const tokenBytes = 32

// Manager creates, validates, and revokes customer sessions.
type Manager struct {
	store   store.Store
	ttl     time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewManager(st store.Store, ttl time.Duration, metrics *telemetry.Metrics) *Manager {
	if metrics == nil {
		metrics = telemetry.NewNoop()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{store: st, ttl: ttl, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// TTL returns the lifetime given to new sessions.
func (m *Manager) TTL() time.Duration { return m.ttl }

// HashToken returns the stored form of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create starts a session and returns the raw token. The token is never persisted.
func (m *Manager) Create(ctx context.Context, customerID, tenantID int64) (string, *models.CustomerSession, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := m.now()
	sess := &models.CustomerSession{
		TokenHash:  HashToken(token),
		CustomerID: customerID,
		TenantID:   tenantID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}
	m.metrics.Session(ctx, "created")
	return token, sess, nil
}

// Validate resolves token to the customer it belongs to. A token minted for a
// different tenant is models.ErrInvalid; an expired one is models.ErrExpired and
// is deleted on the spot.
func (m *Manager) Validate(ctx context.Context, token string, tenantID int64) (*models.CustomerContext, error) {
	if len(token) != 2*tokenBytes {
		return nil, models.ErrInvalid
	}
	if _, err := hex.DecodeString(token); err != nil {
		return nil, models.ErrInvalid
	}

	hash := HashToken(token)
	sess, err := m.store.GetSession(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.metrics.Session(ctx, "invalid")
			return nil, models.ErrInvalid
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if !m.now().Before(sess.ExpiresAt) {
		if err := m.store.DeleteSession(ctx, hash); err != nil {
			slog.Warn("deleting expired session", "customer_id", sess.CustomerID, "error", err)
		}
		m.metrics.Session(ctx, "expired")
		return nil, models.ErrExpired
	}

	if sess.TenantID != tenantID {
		slog.Warn("session presented to wrong tenant", "session_tenant_id", sess.TenantID, "tenant_id", tenantID)
		m.metrics.Session(ctx, "tenant_mismatch")
		return nil, models.ErrInvalid
	}

	customer, err := m.store.GetCustomer(ctx, sess.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = m.store.DeleteSession(ctx, hash)
			return nil, models.ErrInvalid
		}
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	if customer.TenantID != tenantID {
		return nil, models.ErrInvalid
	}

	return &models.CustomerContext{
		CustomerID: customer.ID,
		TenantID:   customer.TenantID,
		Email:      customer.Email,
		FirstName:  customer.FirstName,
		LastName:   customer.LastName,
		ExpiresAt:  sess.ExpiresAt,
	}, nil
}

// Revoke deletes the session for token. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	m.metrics.Session(ctx, "revoked")
	return nil
}

// Sweep deletes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	if n > 0 {
		slog.Info("expired sessions swept", "count", n)
	}
	return n, nil
}
