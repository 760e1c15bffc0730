package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/internal/portal"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// LoginFlow defines the passwordless login operations the portal auth handlers need.
type LoginFlow interface {
	RequestLoginCode(ctx context.Context, email string, tenantID int64) error
	VerifyLoginCode(ctx context.Context, email string, tenantID int64, code string) (*portal.LoginResult, error)
}

// SessionRevoker ends a portal session.
type SessionRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// CookieConfig controls the session cookie written on login.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// NewRequestCodeHandler returns an http.HandlerFunc for POST /api/v1/portal/auth/request-code.
// The response is the same whether or not the email belongs to a customer.
func NewRequestCodeHandler(flow LoginFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := mw.GetTenantContext(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}

		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Email) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email is required", nil)
			return
		}

		err := flow.RequestLoginCode(r.Context(), req.Email, tc.TenantID)
		switch {
		case err == nil:
			response.JSON(w, map[string]any{
				"sent":    true,
				"message": "If an account exists for this email, a login code has been sent",
			})
		case errors.Is(err, models.ErrInvalid):
			response.Error(w, http.StatusBadRequest, "INVALID_EMAIL", "A valid email address is required", nil)
		case errors.Is(err, models.ErrThrottled):
			response.Error(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Please wait before requesting another code", nil)
		case errors.Is(err, models.ErrNotFound):
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
		default:
			slog.Error("request login code failed", "tenant_id", tc.TenantID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
	}
}

// NewVerifyCodeHandler returns an http.HandlerFunc for POST /api/v1/portal/auth/verify-code.
// Every code failure is reported with the same message.
func NewVerifyCodeHandler(flow LoginFlow, cookie CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := mw.GetTenantContext(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}

		var req struct {
			Email string `json:"email"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email and code are required", nil)
			return
		}

		res, err := flow.VerifyLoginCode(r.Context(), req.Email, tc.TenantID, strings.TrimSpace(req.Code))
		if err != nil {
			switch {
			case errors.Is(err, models.ErrInvalid), errors.Is(err, models.ErrExpired),
				errors.Is(err, models.ErrAlreadyUsed), errors.Is(err, models.ErrThrottled):
				slog.Info("login code rejected", "tenant_id", tc.TenantID, "reason", err.Error())
				response.Error(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired code", nil)
			default:
				slog.Error("verify login code failed", "tenant_id", tc.TenantID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     mw.SessionCookieName,
			Value:    res.Token,
			Path:     "/",
			MaxAge:   int(cookie.MaxAge.Seconds()),
			Expires:  res.ExpiresAt,
			HttpOnly: true,
			Secure:   cookie.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		response.JSON(w, map[string]any{
			"token":      res.Token,
			"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
			"customer":   res.Customer,
		})
	}
}

// NewMeHandler returns an http.HandlerFunc for GET /api/v1/portal/me.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cc, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Not signed in", nil)
			return
		}
		response.JSON(w, cc)
	}
}

// NewLogoutHandler returns an http.HandlerFunc for POST /api/v1/portal/auth/logout.
// Logging out without a session still clears the cookie.
func NewLogoutHandler(revoker SessionRevoker, cookie CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := mw.SessionToken(r); token != "" {
			if err := revoker.Revoke(r.Context(), token); err != nil {
				slog.Error("revoking session", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to sign out", nil)
				return
			}
		}

		http.SetCookie(w, &http.Cookie{
			Name:     mw.SessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cookie.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		response.JSON(w, map[string]any{"signed_out": true})
	}
}
