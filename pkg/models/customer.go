package models

import "time"

// Customer is a tenant-scoped portal visitor identity. Customers are never shared across tenants.
type Customer struct {
	ID        int64     `db:"id"         json:"id"`
	TenantID  int64     `db:"tenant_id"  json:"tenant_id"`
	Email     string    `db:"email"      json:"email"`
	FirstName *string   `db:"first_name" json:"first_name,omitempty"`
	LastName  *string   `db:"last_name"  json:"last_name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
