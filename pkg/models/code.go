package models

import (
	"time"

	"github.com/google/uuid"
)

// OneTimeCode is a single login attempt credential bound to (email, tenant).
// Only the bcrypt hash of the digits is stored.
type OneTimeCode struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Email     string     `db:"email"      json:"email"`
	TenantID  int64      `db:"tenant_id"  json:"tenant_id"`
	CodeHash  string     `db:"code_hash"  json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	Used      bool       `db:"used"       json:"used"`
	UsedAt    *time.Time `db:"used_at"    json:"used_at,omitempty"`
}

// Expired reports whether the code is past its validity window at now.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
