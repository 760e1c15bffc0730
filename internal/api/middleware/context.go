package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/portalgate/pkg/models"
)

type contextKey string

const (
	tenantIDKey      contextKey = "tenant_id"
	keyPrefixKey     contextKey = "key_prefix"
	apiKeyScopesKey  contextKey = "api_key_scopes"
	tenantContextKey contextKey = "tenant_context"
	customerKey      contextKey = "customer"
	sessionTokenKey  contextKey = "session_token"
)

// SetTenantID stores the tenant authenticated by API key.
func SetTenantID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func GetTenantID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(tenantIDKey).(int64)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// SetTenantContext stores the portal tenant resolved from the request host.
func SetTenantContext(ctx context.Context, tc *models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

func GetTenantContext(r *http.Request) (*models.TenantContext, bool) {
	tc, ok := r.Context().Value(tenantContextKey).(*models.TenantContext)
	return tc, ok && tc != nil
}

// SetCustomer stores the authenticated portal customer and the raw session token.
func SetCustomer(ctx context.Context, cc *models.CustomerContext, token string) context.Context {
	ctx = context.WithValue(ctx, customerKey, cc)
	return context.WithValue(ctx, sessionTokenKey, token)
}

func GetCustomer(r *http.Request) (*models.CustomerContext, bool) {
	cc, ok := r.Context().Value(customerKey).(*models.CustomerContext)
	return cc, ok && cc != nil
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
