package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Tenant    *mw.Tenant
	Session   *mw.Session

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	HealthHandler  http.HandlerFunc
	MetricsHandler http.HandlerFunc

	PutDomainHandler    http.HandlerFunc
	GetDomainHandler    http.HandlerFunc
	DeleteDomainHandler http.HandlerFunc
	DomainEventsHandler http.HandlerFunc

	LookupDomainHandler http.HandlerFunc
	PortalTenantHandler http.HandlerFunc
	RequestCodeHandler  http.HandlerFunc
	VerifyCodeHandler   http.HandlerFunc
	LogoutHandler       http.HandlerFunc
	MeHandler           http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Tenant admin routes (API key)
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeDomains))

			r.Put("/api/v1/tenant/domain", orNotImplemented(deps.PutDomainHandler))
			r.Get("/api/v1/tenant/domain", orNotImplemented(deps.GetDomainHandler))
			r.Delete("/api/v1/tenant/domain", orNotImplemented(deps.DeleteDomainHandler))
			r.Get("/api/v1/tenant/domain/events", orNotImplemented(deps.DomainEventsHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/admin/metrics", orNotImplemented(deps.MetricsHandler))
		})
	})

	// Portal routes, addressed by host
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/portal/lookup-domain", orNotImplemented(deps.LookupDomainHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Tenant.Resolve)

			r.Get("/api/v1/portal/tenant", orNotImplemented(deps.PortalTenantHandler))
			r.Post("/api/v1/portal/auth/request-code", orNotImplemented(deps.RequestCodeHandler))
			r.Post("/api/v1/portal/auth/verify-code", orNotImplemented(deps.VerifyCodeHandler))
			r.Post("/api/v1/portal/auth/logout", orNotImplemented(deps.LogoutHandler))

			r.With(deps.Session.Require).Get("/api/v1/portal/me", orNotImplemented(deps.MeHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
