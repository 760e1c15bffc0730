// Package portal ties code verification, customer lookup, and session creation
// into the visitor login flow.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/otp"
	"github.com/kiranshivaraju/portalgate/internal/session"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// LoginResult is returned by a successful VerifyLoginCode.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Customer  *models.Customer
}

// LoginService runs the passwordless login flow for portal visitors.
type LoginService struct {
	auth       *otp.Authenticator
	sessions   *session.Manager
	store      store.Store
	autoCreate bool
}

func NewLoginService(auth *otp.Authenticator, sessions *session.Manager, st store.Store, autoCreateCustomers bool) *LoginService {
	return &LoginService{auth: auth, sessions: sessions, store: st, autoCreate: autoCreateCustomers}
}

// RequestLoginCode issues a code for email within the tenant.
func (s *LoginService) RequestLoginCode(ctx context.Context, email string, tenantID int64) error {
	return s.auth.Issue(ctx, email, tenantID)
}

// VerifyLoginCode consumes code and mints a new session for the matching customer.
// Every successful verification creates a fresh session; existing sessions are kept.
func (s *LoginService) VerifyLoginCode(ctx context.Context, email string, tenantID int64, code string) (*LoginResult, error) {
	id, err := s.auth.Verify(ctx, email, tenantID, code)
	if err != nil {
		return nil, err
	}

	customer, err := s.customer(ctx, id)
	if err != nil {
		return nil, err
	}

	token, sess, err := s.sessions.Create(ctx, customer.ID, tenantID)
	if err != nil {
		return nil, err
	}
	slog.Info("portal login", "tenant_id", tenantID, "customer_id", customer.ID)
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, Customer: customer}, nil
}

func (s *LoginService) customer(ctx context.Context, id *otp.Identity) (*models.Customer, error) {
	c, err := s.store.GetCustomerByEmail(ctx, id.TenantID, id.Email)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	if !s.autoCreate {
		return nil, models.ErrInvalid
	}

	c = &models.Customer{TenantID: id.TenantID, Email: id.Email}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return s.store.GetCustomerByEmail(ctx, id.TenantID, id.Email)
		}
		return nil, fmt.Errorf("creating customer: %w", err)
	}
	slog.Info("customer created on first login", "tenant_id", id.TenantID, "customer_id", c.ID)
	return c, nil
}
