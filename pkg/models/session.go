package models

import "time"

// CustomerSession is a server-side portal session. The raw token is only ever held by the client.
type CustomerSession struct {
	TokenHash  string    `db:"token_hash"  json:"-"`
	CustomerID int64     `db:"customer_id" json:"customer_id"`
	TenantID   int64     `db:"tenant_id"   json:"tenant_id"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"  json:"expires_at"`
}

// CustomerContext is the authorization result handed to downstream handlers.
type CustomerContext struct {
	CustomerID int64     `json:"customer_id"`
	TenantID   int64     `json:"tenant_id"`
	Email      string    `json:"email"`
	FirstName  *string   `json:"first_name,omitempty"`
	LastName   *string   `json:"last_name,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}
