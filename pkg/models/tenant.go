// Package models contains shared data models used across the portal gateway.
package models

import "time"

// Custom domain statuses as seen by tenants and the routing layer.
const (
	DomainStatusNone                = "none"
	DomainStatusPendingVerification = "pending_verification"
	DomainStatusActive              = "active"
	DomainStatusFailed              = "failed"
)

// Tenant represents an organization that owns a customer portal.
// CustomDomain and CustomDomainStatus are a projection maintained by the provisioner.
type Tenant struct {
	ID                 int64     `db:"id"                   json:"id"`
	Slug               string    `db:"slug"                 json:"slug"`
	Name               string    `db:"name"                 json:"name"`
	PortalEnabled      bool      `db:"portal_enabled"       json:"portal_enabled"`
	CustomDomain       *string   `db:"custom_domain"        json:"custom_domain,omitempty"`
	CustomDomainStatus string    `db:"custom_domain_status" json:"custom_domain_status"`
	PortalTitle        *string   `db:"portal_title"         json:"portal_title,omitempty"`
	PortalDescription  *string   `db:"portal_description"   json:"portal_description,omitempty"`
	LogoURL            *string   `db:"logo_url"             json:"logo_url,omitempty"`
	CreatedAt          time.Time `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"           json:"updated_at"`
}

// Resolution sources for a TenantContext.
const (
	ResolvedViaSlug         = "slug"
	ResolvedViaCustomDomain = "custom_domain"
)

// TenantContext is the routing result for an inbound hostname.
type TenantContext struct {
	TenantID    int64   `json:"tenant_id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Hostname    string  `json:"hostname"`
	PortalPath  string  `json:"portal_path"`
	Via         string  `json:"via"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	LogoURL     *string `json:"logo_url,omitempty"`
}

// NewTenantContext builds the routing context for t reached through host.
func NewTenantContext(t *Tenant, host, via string) *TenantContext {
	return &TenantContext{
		TenantID:    t.ID,
		Slug:        t.Slug,
		Name:        t.Name,
		Hostname:    host,
		PortalPath:  "/portal/" + t.Slug,
		Via:         via,
		Title:       t.PortalTitle,
		Description: t.PortalDescription,
		LogoURL:     t.LogoURL,
	}
}
