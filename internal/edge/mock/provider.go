package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// MockProvider satisfies models.HostnameProvider for local development and tests.
// Unset funcs fall back to an in-memory registry that reports every registered
// hostname as verified and issued.
type MockProvider struct {
	Name_        string
	RegisterFunc func(ctx context.Context, hostname string) (models.HostnameRegistration, error)
	StatusFunc   func(ctx context.Context, providerID string) (models.HostnameProviderStatus, error)
	DeleteFunc   func(ctx context.Context, providerID string) error

	cnameTarget string
	mu          sync.Mutex
	hostnames   map[string]string
	calls       map[string]int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Register(ctx context.Context, hostname string) (models.HostnameRegistration, error) {
	m.count("register")
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, hostname)
	}
	id := "mock-" + uuid.NewString()
	m.mu.Lock()
	m.hostnames[id] = hostname
	m.mu.Unlock()
	return models.HostnameRegistration{
		ProviderID:        id,
		VerificationName:  "_cf-custom-hostname." + hostname,
		VerificationValue: uuid.NewString(),
		CNAMETarget:       m.cnameTarget,
	}, nil
}

func (m *MockProvider) Status(ctx context.Context, providerID string) (models.HostnameProviderStatus, error) {
	m.count("status")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, providerID)
	}
	m.mu.Lock()
	_, ok := m.hostnames[providerID]
	m.mu.Unlock()
	if !ok {
		return models.HostnameProviderStatus{Rejected: true, LastError: "hostname not registered"}, nil
	}
	return models.HostnameProviderStatus{DomainVerified: true, CertificateIssued: true}, nil
}

func (m *MockProvider) Delete(ctx context.Context, providerID string) error {
	m.count("delete")
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, providerID)
	}
	m.mu.Lock()
	delete(m.hostnames, providerID)
	m.mu.Unlock()
	return nil
}

// Calls returns how many times op ("register", "status", "delete") was invoked.
func (m *MockProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockProvider) count(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

// NewMockProvider returns a MockProvider backed by an in-memory registry.
func NewMockProvider(cnameTarget string) *MockProvider {
	return &MockProvider{
		Name_:       "mock",
		cnameTarget: cnameTarget,
		hostnames:   make(map[string]string),
		calls:       make(map[string]int),
	}
}

// NewFailingProvider returns a MockProvider whose every call fails with err.
func NewFailingProvider(err error) *MockProvider {
	m := NewMockProvider("")
	m.Name_ = "mock-failing"
	m.RegisterFunc = func(_ context.Context, _ string) (models.HostnameRegistration, error) {
		return models.HostnameRegistration{}, err
	}
	m.StatusFunc = func(_ context.Context, _ string) (models.HostnameProviderStatus, error) {
		return models.HostnameProviderStatus{}, err
	}
	m.DeleteFunc = func(_ context.Context, _ string) error {
		return err
	}
	return m
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is cancelled.
func NewTimeoutProvider() *MockProvider {
	m := NewMockProvider("")
	m.Name_ = "mock-timeout"
	m.RegisterFunc = func(ctx context.Context, _ string) (models.HostnameRegistration, error) {
		<-ctx.Done()
		return models.HostnameRegistration{}, models.ErrProviderTransient
	}
	m.StatusFunc = func(ctx context.Context, _ string) (models.HostnameProviderStatus, error) {
		<-ctx.Done()
		return models.HostnameProviderStatus{}, models.ErrProviderTransient
	}
	m.DeleteFunc = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return models.ErrProviderTransient
	}
	return m
}

// Compile-time check that MockProvider implements HostnameProvider.
var _ models.HostnameProvider = (*MockProvider)(nil)
