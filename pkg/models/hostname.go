package models

import (
	"time"

	"github.com/google/uuid"
)

// Internal provisioning statuses. HostnameStatusRequested and HostnameStatusRemovedPending
// are bookkeeping states and are never shown to tenants directly.
const (
	HostnameStatusRequested           = "requested"
	HostnameStatusPendingVerification = "pending_verification"
	HostnameStatusActive              = "active"
	HostnameStatusFailed              = "failed"
	HostnameStatusRemovedPending      = "removed_pending"
	HostnameStatusRemoved             = "removed"
)

// CustomHostname is the provisioning record for a tenant-supplied domain.
type CustomHostname struct {
	ID                uuid.UUID  `db:"id"                  json:"id"`
	TenantID          int64      `db:"tenant_id"           json:"tenant_id"`
	Hostname          string     `db:"hostname"            json:"hostname"`
	ProviderRecordID  *string    `db:"provider_record_id"  json:"provider_record_id,omitempty"`
	VerificationToken *string    `db:"verification_token"  json:"verification_token,omitempty"`
	VerificationName  *string    `db:"verification_name"   json:"verification_name,omitempty"`
	TargetCNAME       string     `db:"target_cname"        json:"target_cname"`
	DCVTarget         *string    `db:"dcv_target"          json:"dcv_target,omitempty"`
	Status            string     `db:"status"              json:"status"`
	LastError         *string    `db:"last_error"          json:"last_error,omitempty"`
	Attempts          int        `db:"attempts"            json:"attempts"`
	NextCheckAt       *time.Time `db:"next_check_at"       json:"next_check_at,omitempty"`
	LastCheckedAt     *time.Time `db:"last_checked_at"     json:"last_checked_at,omitempty"`
	// StartedAt opens the verification window; operator retries reset it.
	StartedAt time.Time `db:"started_at"          json:"started_at"`
	CreatedAt time.Time `db:"created_at"          json:"created_at"`
	UpdatedAt time.Time `db:"updated_at"          json:"updated_at"`
}

// PublicStatus maps the internal status onto the four tenant-visible statuses.
func (h *CustomHostname) PublicStatus() string {
	switch h.Status {
	case HostnameStatusRequested, HostnameStatusPendingVerification:
		return DomainStatusPendingVerification
	case HostnameStatusActive:
		return DomainStatusActive
	case HostnameStatusFailed:
		return DomainStatusFailed
	default:
		return DomainStatusNone
	}
}

// HostnameEvent is one row of the durable provisioning audit trail.
type HostnameEvent struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	RecordID   uuid.UUID `db:"record_id"   json:"record_id"`
	TenantID   int64     `db:"tenant_id"   json:"tenant_id"`
	Hostname   string    `db:"hostname"    json:"hostname"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status"   json:"to_status"`
	Reason     string    `db:"reason"      json:"reason"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
