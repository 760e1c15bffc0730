package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// TenantLookup resolves a hostname to the tenant portal it serves.
type TenantLookup interface {
	Resolve(ctx context.Context, host string) (*models.TenantContext, error)
}

// NewPortalTenantHandler returns an http.HandlerFunc for GET /api/v1/portal/tenant.
// The tenant was resolved from the request host by middleware.
func NewPortalTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := mw.GetTenantContext(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}
		response.JSON(w, tc)
	}
}

// NewLookupDomainHandler returns an http.HandlerFunc for GET /api/v1/portal/lookup-domain?domain=.
// Used by the edge to map an arbitrary host onto a tenant portal.
func NewLookupDomainHandler(lookup TenantLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := strings.TrimSpace(r.URL.Query().Get("domain"))
		if domain == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "domain is required", nil)
			return
		}

		tc, err := lookup.Resolve(r.Context(), domain)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				slog.Error("portal lookup failed", "domain", domain, "error", err)
			}
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}
		response.JSON(w, tc)
	}
}
