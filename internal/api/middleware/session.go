package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// SessionCookieName is the cookie carrying the portal session token.
const SessionCookieName = "portal_session"

// SessionValidator checks a raw session token against a tenant.
type SessionValidator interface {
	Validate(ctx context.Context, token string, tenantID int64) (*models.CustomerContext, error)
}

// Session authenticates portal visitors. It must run after Tenant.Resolve.
type Session struct {
	validator SessionValidator
}

func NewSession(v SessionValidator) *Session {
	return &Session{validator: v}
}

// Require rejects requests without a valid session for the resolved tenant.
func (s *Session) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := GetTenantContext(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}

		token := SessionToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Not signed in", nil)
			return
		}

		cc, err := s.validator.Validate(r.Context(), token, tc.TenantID)
		if err != nil {
			if errors.Is(err, models.ErrInvalid) || errors.Is(err, models.ErrExpired) {
				response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Session expired or invalid", nil)
				return
			}
			slog.Error("validating session", "tenant_id", tc.TenantID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetCustomer(r.Context(), cc, token)))
	})
}

// SessionToken reads the session token from the cookie, falling back to a Bearer header.
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return extractBearerToken(r)
}
