// Package hostname normalizes and validates hostnames used for portal routing.
package hostname

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

const maxHostnameLength = 253

var (
	ErrMalformed = fmt.Errorf("%w: malformed hostname", models.ErrInvalid)
	ErrReserved  = fmt.Errorf("%w: reserved hostname", models.ErrInvalid)
)

// Normalize strips any port and trailing dot, lower-cases, and converts
// internationalized names to their ASCII form. It never fails; garbage in
// yields a string that will not match any tenant.
func Normalize(raw string) string {
	h := strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		h = ascii
	}
	return h
}

// Validate checks that host (already normalized) is a registrable DNS name a
// tenant may claim. IP literals, wildcards and single-label names are rejected.
func Validate(host string) error {
	if host == "" || len(host) > maxHostnameLength {
		return ErrMalformed
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: IP addresses are not allowed", ErrMalformed)
	}
	if strings.Contains(host, "*") {
		return fmt.Errorf("%w: wildcards are not allowed", ErrMalformed)
	}
	if _, ok := dns.IsDomainName(host); !ok {
		return ErrMalformed
	}

	labels := dns.SplitDomainName(host)
	if len(labels) < 2 {
		return fmt.Errorf("%w: at least two labels required", ErrMalformed)
	}
	for _, l := range labels {
		if !validLabel(l) {
			return fmt.Errorf("%w: invalid label %q", ErrMalformed, l)
		}
	}
	if isNumeric(labels[len(labels)-1]) {
		return fmt.Errorf("%w: numeric top-level label", ErrMalformed)
	}
	return nil
}

// Reserved reports whether host equals or sits under the base domain or any of the reserved names.
func Reserved(host, baseDomain string, reserved []string) bool {
	if baseDomain != "" && IsWithin(host, baseDomain) {
		return true
	}
	for _, r := range reserved {
		if r != "" && IsWithin(host, r) {
			return true
		}
	}
	return false
}

// IsWithin reports whether host is parent itself or one of its subdomains.
func IsWithin(host, parent string) bool {
	return dns.IsSubDomain(dns.Fqdn(parent), dns.Fqdn(host))
}

// SlugFromHost extracts the tenant slug from a <slug>.<base> host.
// Deeper names (a.b.<base>) and the base domain itself do not yield a slug.
func SlugFromHost(host, baseDomain string) (string, bool) {
	suffix := "." + baseDomain
	if baseDomain == "" || !strings.HasSuffix(host, suffix) {
		return "", false
	}
	slug := strings.TrimSuffix(host, suffix)
	if slug == "" || strings.Contains(slug, ".") || !validLabel(slug) {
		return "", false
	}
	return slug, true
}

// ValidateClaim runs Validate and the reserved-name check together.
func ValidateClaim(host, baseDomain string, reserved []string) error {
	if err := Validate(host); err != nil {
		return err
	}
	if Reserved(host, baseDomain, reserved) {
		return ErrReserved
	}
	return nil
}

// IsInvalid reports whether err came from hostname validation.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrReserved)
}

func validLabel(l string) bool {
	if len(l) == 0 || len(l) > 63 {
		return false
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
