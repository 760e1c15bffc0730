package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// TenantResolver maps a request host to a portal tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (*models.TenantContext, error)
}

// Tenant resolves the portal tenant from the request host. Every resolution
// failure is answered with the same 404 so hosts cannot be enumerated.
type Tenant struct {
	resolver       TenantResolver
	trustForwarded bool
}

func NewTenant(resolver TenantResolver, trustForwardedHost bool) *Tenant {
	return &Tenant{resolver: resolver, trustForwarded: trustForwardedHost}
}

func (t *Tenant) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := t.resolver.Resolve(r.Context(), t.Host(r))
		if err != nil {
			response.Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetTenantContext(r.Context(), tc)))
	})
}

// Host returns the host the visitor addressed. X-Forwarded-Host is honoured
// only when the deployment sits behind a trusted proxy.
func (t *Tenant) Host(r *http.Request) string {
	if t.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			// The first entry is the client-facing host.
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	return r.Host
}
