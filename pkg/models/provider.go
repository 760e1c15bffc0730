package models

import "context"

// HostnameProvider is the edge/DNS/TLS provider that fronts custom hostnames.
// Services depend on this interface, never on a concrete provider.
//
// Implementations must wrap network failures and timeouts in ErrProviderTransient
// and configuration problems reported by the provider in ErrProviderRejected.
type HostnameProvider interface {
	// Register creates the provider-side hostname and returns its id and verification data.
	Register(ctx context.Context, hostname string) (HostnameRegistration, error)
	// Status reads the current verification and certificate state.
	Status(ctx context.Context, providerID string) (HostnameProviderStatus, error)
	// Delete removes the provider-side hostname. Deleting an unknown id is not an error.
	Delete(ctx context.Context, providerID string) error
	// Name returns the provider identifier (e.g. "cloudflare", "mock").
	Name() string
}

// HostnameRegistration is returned by HostnameProvider.Register.
type HostnameRegistration struct {
	ProviderID        string
	VerificationName  string // record name the tenant must publish (e.g. _cf-custom-hostname.pay.example.com)
	VerificationValue string
	CNAMETarget       string
	DCVTarget         string
}

// HostnameProviderStatus is one status read. Both flags must be true in the same read for activation.
type HostnameProviderStatus struct {
	DomainVerified    bool
	CertificateIssued bool
	// Rejected is set when the provider reports a terminal configuration problem.
	Rejected  bool
	LastError string
}

// Notifier delivers one-time codes to visitors.
type Notifier interface {
	SendCode(ctx context.Context, destination, code string, tenant *Tenant) error
	Name() string
}
