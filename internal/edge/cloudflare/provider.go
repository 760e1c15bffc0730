// Package cloudflare registers tenant hostnames with Cloudflare for SaaS.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/portalgate/internal/config"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// Cloudflare error code for a hostname that already exists in the zone.
const codeDuplicateHostname = 1406

// Hostname and certificate states that will not progress without tenant or operator action.
var terminalHostnameStatus = map[string]bool{
	"blocked": true,
	"moved":   true,
	"deleted": true,
}

var terminalSSLStatus = map[string]bool{
	"validation_timed_out": true,
	"issuance_timed_out":   true,
	"deleted":              true,
}

// Provider implements models.HostnameProvider against the custom_hostnames API.
type Provider struct {
	client      *resty.Client
	zoneID      string
	cnameTarget string
	dcvTarget   string
}

// NewProvider creates a Cloudflare provider. Each call is bounded by cfg.Timeout.
func NewProvider(cfg config.EdgeConfig) *Provider {
	client := resty.New().
		SetBaseURL(cfg.Cloudflare.APIURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Cloudflare.APIToken).
		SetRetryCount(2).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Provider{
		client:      client,
		zoneID:      cfg.Cloudflare.ZoneID,
		cnameTarget: cfg.CNAMETarget,
		dcvTarget:   cfg.DCVTarget,
	}
}

func (p *Provider) Name() string { return "cloudflare" }

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  T          `json:"result"`
}

func (e *envelope[T]) hasCode(code int) bool {
	for _, ae := range e.Errors {
		if ae.Code == code {
			return true
		}
	}
	return false
}

func (e *envelope[T]) message() string {
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return e.Errors[0].Message
	}
	return "request not accepted"
}

type validationRecord struct {
	TxtName  string `json:"txt_name"`
	TxtValue string `json:"txt_value"`
}

type customHostname struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	SSL    struct {
		Status            string             `json:"status"`
		ValidationRecords []validationRecord `json:"validation_records"`
		ValidationErrors  []struct {
			Message string `json:"message"`
		} `json:"validation_errors"`
	} `json:"ssl"`
	OwnershipVerification struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"ownership_verification"`
	VerificationErrors []string `json:"verification_errors"`
}

type createRequest struct {
	Hostname string     `json:"hostname"`
	SSL      sslRequest `json:"ssl"`
}

type sslRequest struct {
	Method   string      `json:"method"`
	Type     string      `json:"type"`
	Settings sslSettings `json:"settings"`
}

type sslSettings struct {
	MinTLSVersion string `json:"min_tls_version"`
}

// Register creates the custom hostname with TXT-based DV validation.
// A hostname that already exists in the zone is adopted instead of failing.
func (p *Provider) Register(ctx context.Context, hostname string) (models.HostnameRegistration, error) {
	var env envelope[customHostname]
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("zoneID", p.zoneID).
		SetBody(createRequest{
			Hostname: hostname,
			SSL:      sslRequest{Method: "txt", Type: "dv", Settings: sslSettings{MinTLSVersion: "1.2"}},
		}).
		SetResult(&env).
		SetError(&env).
		Post("/zones/{zoneID}/custom_hostnames")
	if err := check("register hostname", resp, err, env.Success, env.message()); err != nil {
		if errors.Is(err, models.ErrProviderRejected) && env.hasCode(codeDuplicateHostname) {
			existing, lookupErr := p.findByHostname(ctx, hostname)
			if lookupErr != nil {
				return models.HostnameRegistration{}, lookupErr
			}
			return p.registration(existing), nil
		}
		return models.HostnameRegistration{}, err
	}
	return p.registration(&env.Result), nil
}

// Status reads the hostname and certificate state. Activation requires both to be active.
func (p *Provider) Status(ctx context.Context, providerID string) (models.HostnameProviderStatus, error) {
	var env envelope[customHostname]
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"zoneID": p.zoneID, "id": providerID}).
		SetResult(&env).
		SetError(&env).
		Get("/zones/{zoneID}/custom_hostnames/{id}")
	if err := check("get hostname", resp, err, env.Success, env.message()); err != nil {
		if resp != nil && resp.StatusCode() == http.StatusNotFound {
			return models.HostnameProviderStatus{Rejected: true, LastError: "hostname is no longer registered with the edge provider"}, nil
		}
		return models.HostnameProviderStatus{}, err
	}

	h := env.Result
	st := models.HostnameProviderStatus{
		DomainVerified:    h.Status == "active",
		CertificateIssued: h.SSL.Status == "active",
		Rejected:          terminalHostnameStatus[h.Status] || terminalSSLStatus[h.SSL.Status],
	}
	switch {
	case len(h.VerificationErrors) > 0:
		st.LastError = h.VerificationErrors[0]
	case len(h.SSL.ValidationErrors) > 0:
		st.LastError = h.SSL.ValidationErrors[0].Message
	case st.Rejected:
		st.LastError = fmt.Sprintf("hostname status %q, certificate status %q", h.Status, h.SSL.Status)
	}
	return st, nil
}

// Delete removes the custom hostname. An id unknown to Cloudflare counts as deleted.
func (p *Provider) Delete(ctx context.Context, providerID string) error {
	var env envelope[struct {
		ID string `json:"id"`
	}]
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"zoneID": p.zoneID, "id": providerID}).
		SetResult(&env).
		SetError(&env).
		Delete("/zones/{zoneID}/custom_hostnames/{id}")
	if resp != nil && err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return check("delete hostname", resp, err, env.Success, env.message())
}

func (p *Provider) findByHostname(ctx context.Context, hostname string) (*customHostname, error) {
	var env envelope[[]customHostname]
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("zoneID", p.zoneID).
		SetQueryParam("hostname", hostname).
		SetResult(&env).
		SetError(&env).
		Get("/zones/{zoneID}/custom_hostnames")
	if err := check("find hostname", resp, err, env.Success, env.message()); err != nil {
		return nil, err
	}
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("%w: hostname %s reported as duplicate but not found", models.ErrProviderTransient, hostname)
	}
	return &env.Result[0], nil
}

func (p *Provider) registration(h *customHostname) models.HostnameRegistration {
	reg := models.HostnameRegistration{
		ProviderID:  h.ID,
		CNAMETarget: p.cnameTarget,
		DCVTarget:   p.dcvTarget,
	}
	if len(h.SSL.ValidationRecords) > 0 {
		reg.VerificationName = h.SSL.ValidationRecords[0].TxtName
		reg.VerificationValue = h.SSL.ValidationRecords[0].TxtValue
	}
	if reg.VerificationName == "" {
		reg.VerificationName = h.OwnershipVerification.Name
		reg.VerificationValue = h.OwnershipVerification.Value
	}
	return reg
}

// check turns a resty outcome into nil, ErrProviderTransient, or ErrProviderRejected.
// Credential failures are transient: the record keeps retrying until the token is fixed.
func check(op string, resp *resty.Response, err error, success bool, msg string) error {
	if err != nil {
		return classifyError(op, err)
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		slog.Error("cloudflare rejected API credentials, check the API token and its zone permissions",
			"op", op, "status", code, "message", msg)
		return fmt.Errorf("%w: %s: credentials rejected: HTTP %d", models.ErrProviderTransient, op, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s: HTTP %d", models.ErrProviderTransient, op, code)
	case code >= 400 || !success:
		return fmt.Errorf("%w: %s: %s", models.ErrProviderRejected, op, msg)
	}
	return nil
}

// classifyError maps transport-level errors to the transient sentinel.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s timed out: %v", models.ErrProviderTransient, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s timed out: %v", models.ErrProviderTransient, op, err)
	}

	return fmt.Errorf("%w: %s unreachable: %v", models.ErrProviderTransient, op, err)
}

// Compile-time check that Provider implements HostnameProvider.
var _ models.HostnameProvider = (*Provider)(nil)
