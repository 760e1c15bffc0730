package cache

import (
	"fmt"
	"strings"
)

// ResolveKey caches the routing result for a normalized hostname.
func ResolveKey(hostname string) string {
	return fmt.Sprintf("resolve:%s", hostname)
}

func IssueCooldownKey(tenantID int64, email string) string {
	return fmt.Sprintf("otp:cooldown:%d:%s", tenantID, strings.ToLower(email))
}

func IssueCountKey(tenantID int64, email string) string {
	return fmt.Sprintf("otp:issued:%d:%s", tenantID, strings.ToLower(email))
}

func VerifyFailuresKey(tenantID int64, email string) string {
	return fmt.Sprintf("otp:failures:%d:%s", tenantID, strings.ToLower(email))
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
