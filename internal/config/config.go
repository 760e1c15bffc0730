package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the portal gateway.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Portal       PortalConfig
	Edge         EdgeConfig
	Provisioning ProvisioningConfig
	Notify       NotifyConfig
	OTP          OTPConfig
	Session      SessionConfig
	RateLimit    RateLimitConfig
}

type ServerConfig struct {
	Port int    `env:"PORTAL_PORT" envDefault:"8080"`
	Env  string `env:"PORTAL_ENV"  envDefault:"development"`
}

// IsProduction reports whether the server runs with production settings.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
	MigrationsDir   string        `env:"DATABASE_MIGRATIONS_DIR"    envDefault:"migrations"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// PortalConfig controls hostname routing.
type PortalConfig struct {
	BaseDomain         string        `env:"PORTAL_BASE_DOMAIN"`
	ReservedDomains    []string      `env:"PORTAL_RESERVED_DOMAINS" envSeparator:","`
	ReservedSlugs      []string      `env:"PORTAL_RESERVED_SLUGS"   envSeparator:"," envDefault:"www,app,api,admin"`
	TrustForwardedHost bool          `env:"PORTAL_TRUST_FORWARDED_HOST" envDefault:"false"`
	CacheTTL           time.Duration `env:"RESOLVER_CACHE_TTL"      envDefault:"0s"`
}

type EdgeConfig struct {
	Provider    string        `env:"EDGE_PROVIDER"     envDefault:"mock"`
	CNAMETarget string        `env:"EDGE_CNAME_TARGET"`
	DCVTarget   string        `env:"EDGE_DCV_TARGET"`
	Timeout     time.Duration `env:"EDGE_TIMEOUT"      envDefault:"10s"`
	Cloudflare  CloudflareConfig
}

type CloudflareConfig struct {
	APIURL   string `env:"CLOUDFLARE_API_URL"   envDefault:"https://api.cloudflare.com/client/v4"`
	APIToken string `env:"CLOUDFLARE_API_TOKEN"`
	ZoneID   string `env:"CLOUDFLARE_ZONE_ID"`
}

type ProvisioningConfig struct {
	Workers      int           `env:"PROVISION_WORKERS"       envDefault:"4"`
	ScanInterval time.Duration `env:"PROVISION_SCAN_INTERVAL" envDefault:"15s"`
	BaseBackoff  time.Duration `env:"PROVISION_BASE_BACKOFF"  envDefault:"30s"`
	MaxBackoff   time.Duration `env:"PROVISION_MAX_BACKOFF"   envDefault:"30m"`
	MaxAttempts  int           `env:"PROVISION_MAX_ATTEMPTS"  envDefault:"40"`
	MaxAge       time.Duration `env:"PROVISION_MAX_AGE"       envDefault:"72h"`
}

type NotifyConfig struct {
	Provider     string        `env:"NOTIFY_PROVIDER"        envDefault:"log"`
	SenderEmail  string        `env:"NOTIFY_SENDER_EMAIL"`
	Timeout      time.Duration `env:"NOTIFY_TIMEOUT"         envDefault:"10s"`
	Wait         time.Duration `env:"NOTIFY_WAIT"            envDefault:"2s"`
	ServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
}

type OTPConfig struct {
	TTL                 time.Duration `env:"OTP_TTL"                   envDefault:"10m"`
	IssueCooldown       time.Duration `env:"OTP_ISSUE_COOLDOWN"        envDefault:"60s"`
	MaxIssuesPerHour    int           `env:"OTP_MAX_ISSUES_PER_HOUR"   envDefault:"5"`
	MaxFailedVerifies   int           `env:"OTP_MAX_FAILED_VERIFIES"   envDefault:"5"`
	LockoutWindow       time.Duration `env:"OTP_LOCKOUT_WINDOW"        envDefault:"15m"`
	HashCost            int           `env:"OTP_HASH_COST"             envDefault:"10"`
	AutoCreateCustomers bool          `env:"OTP_AUTO_CREATE_CUSTOMERS" envDefault:"false"`
}

type SessionConfig struct {
	TTL           time.Duration `env:"SESSION_TTL"            envDefault:"168h"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1h"`
	CookieSecure  bool          `env:"SESSION_COOKIE_SECURE"  envDefault:"true"`
}

type RateLimitConfig struct {
	PerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

const maxResolverCacheTTL = 60 * time.Second

var validEdgeProviders = map[string]bool{
	"cloudflare": true,
	"mock":       true,
}

var validNotifyProviders = map[string]bool{
	"postmark": true,
	"log":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Portal.BaseDomain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(cfg.Portal.BaseDomain)), ".")
	for i, d := range cfg.Portal.ReservedDomains {
		cfg.Portal.ReservedDomains[i] = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Portal.BaseDomain == "" {
		return fmt.Errorf("PORTAL_BASE_DOMAIN is required")
	}
	if c.Portal.CacheTTL < 0 || c.Portal.CacheTTL > maxResolverCacheTTL {
		return fmt.Errorf("RESOLVER_CACHE_TTL must be between 0s and %s, got %s", maxResolverCacheTTL, c.Portal.CacheTTL)
	}

	if !validEdgeProviders[c.Edge.Provider] {
		return fmt.Errorf("EDGE_PROVIDER must be one of cloudflare, mock; got %q", c.Edge.Provider)
	}
	if c.Edge.Provider == "cloudflare" {
		if c.Edge.Cloudflare.APIToken == "" {
			return fmt.Errorf("CLOUDFLARE_API_TOKEN is required when EDGE_PROVIDER is cloudflare")
		}
		if c.Edge.Cloudflare.ZoneID == "" {
			return fmt.Errorf("CLOUDFLARE_ZONE_ID is required when EDGE_PROVIDER is cloudflare")
		}
		if !strings.HasPrefix(c.Edge.Cloudflare.APIURL, "http://") && !strings.HasPrefix(c.Edge.Cloudflare.APIURL, "https://") {
			return fmt.Errorf("CLOUDFLARE_API_URL must start with http:// or https://, got %q", c.Edge.Cloudflare.APIURL)
		}
		if c.Edge.CNAMETarget == "" {
			return fmt.Errorf("EDGE_CNAME_TARGET is required when EDGE_PROVIDER is cloudflare")
		}
	}
	if c.Edge.Timeout <= 0 {
		return fmt.Errorf("EDGE_TIMEOUT must be positive")
	}

	if c.Provisioning.Workers < 1 {
		return fmt.Errorf("PROVISION_WORKERS must be at least 1, got %d", c.Provisioning.Workers)
	}
	if c.Provisioning.MaxAttempts < 1 {
		return fmt.Errorf("PROVISION_MAX_ATTEMPTS must be at least 1, got %d", c.Provisioning.MaxAttempts)
	}
	if c.Provisioning.BaseBackoff <= 0 || c.Provisioning.MaxBackoff < c.Provisioning.BaseBackoff {
		return fmt.Errorf("PROVISION_BASE_BACKOFF must be positive and not above PROVISION_MAX_BACKOFF")
	}

	if !validNotifyProviders[c.Notify.Provider] {
		return fmt.Errorf("NOTIFY_PROVIDER must be one of postmark, log; got %q", c.Notify.Provider)
	}
	if c.Notify.Provider == "postmark" {
		if c.Notify.ServerToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN is required when NOTIFY_PROVIDER is postmark")
		}
		if c.Notify.SenderEmail == "" {
			return fmt.Errorf("NOTIFY_SENDER_EMAIL is required when NOTIFY_PROVIDER is postmark")
		}
	}

	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTP.HashCost < 4 || c.OTP.HashCost > 31 {
		return fmt.Errorf("OTP_HASH_COST must be between 4 and 31, got %d", c.OTP.HashCost)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}
