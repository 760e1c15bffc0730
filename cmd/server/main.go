// Package main is the entrypoint for the portal gateway server and its operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/portalgate/internal/api"
	"github.com/kiranshivaraju/portalgate/internal/api/handler"
	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/cache"
	"github.com/kiranshivaraju/portalgate/internal/config"
	"github.com/kiranshivaraju/portalgate/internal/edge"
	"github.com/kiranshivaraju/portalgate/internal/notify"
	"github.com/kiranshivaraju/portalgate/internal/otp"
	"github.com/kiranshivaraju/portalgate/internal/portal"
	"github.com/kiranshivaraju/portalgate/internal/provisioning"
	"github.com/kiranshivaraju/portalgate/internal/resolver"
	"github.com/kiranshivaraju/portalgate/internal/session"
	"github.com/kiranshivaraju/portalgate/internal/store"
	"github.com/kiranshivaraju/portalgate/internal/telemetry"
	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("portalgate failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "portalgate",
		Usage:  "Tenant customer portals on slug and custom domains",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations and exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load()
					if err != nil {
						return fmt.Errorf("load config: %w", err)
					}
					if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
						return fmt.Errorf("run migrations: %w", err)
					}
					slog.Info("database migrations applied")
					return nil
				},
			},
			{
				Name:  "domains",
				Usage: "Custom domain maintenance",
				Commands: []*cli.Command{
					{
						Name:  "retry",
						Usage: "Move a tenant's failed custom domain back into verification",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "tenant", Usage: "tenant id", Required: true},
						},
						Action: retryDomain,
					},
				},
			},
			{
				Name:  "sessions",
				Usage: "Portal session maintenance",
				Commands: []*cli.Command{
					{
						Name:   "sweep",
						Usage:  "Delete expired portal sessions",
						Action: sweepSessions,
					},
				},
			},
		},
	}
}

// backends holds the connections every command needs.
type backends struct {
	cfg   *config.Config
	store store.Store
	cache *cache.RedisCache
	close func()
}

func connect(ctx context.Context) (*backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "edge_provider", cfg.Edge.Provider, "notify_provider", cfg.Notify.Provider)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	return &backends{
		cfg:   cfg,
		store: store.NewPostgresStore(pool),
		cache: redisCache,
		close: func() {
			redisCache.Close()
			pool.Close()
		},
	}, nil
}

// services is the wired domain layer.
type services struct {
	telemetry   *telemetry.Provider
	resolver    *resolver.Resolver
	provisioner *provisioning.Provisioner
	worker      *provisioning.Worker
	sessions    *session.Manager
	sweeper     *session.Sweeper
	login       *portal.LoginService
}

func newServices(cfg *config.Config, st store.Store, ca cache.Cache, provider models.HostnameProvider, notifier models.Notifier) (*services, error) {
	tp := telemetry.NewProvider()
	metrics, err := telemetry.New(tp)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	res := resolver.New(st, ca, resolver.Config{
		BaseDomain:    cfg.Portal.BaseDomain,
		ReservedSlugs: cfg.Portal.ReservedSlugs,
		CacheTTL:      cfg.Portal.CacheTTL,
	}, metrics)

	prov := provisioning.NewProvisioner(st, provider, res, provisioning.Config{
		BaseDomain:      cfg.Portal.BaseDomain,
		ReservedDomains: cfg.Portal.ReservedDomains,
		CNAMETarget:     cfg.Edge.CNAMETarget,
		DCVTarget:       cfg.Edge.DCVTarget,
		ProviderTimeout: cfg.Edge.Timeout,
		BaseBackoff:     cfg.Provisioning.BaseBackoff,
		MaxBackoff:      cfg.Provisioning.MaxBackoff,
		MaxAttempts:     cfg.Provisioning.MaxAttempts,
		MaxAge:          cfg.Provisioning.MaxAge,
	}, metrics)
	worker := provisioning.NewWorker(st, prov, cfg.Provisioning.Workers, cfg.Provisioning.ScanInterval)
	res.SetHinter(worker)

	auth := otp.NewAuthenticator(st, ca, notifier, otp.Config{
		TTL:                 cfg.OTP.TTL,
		IssueCooldown:       cfg.OTP.IssueCooldown,
		MaxIssuesPerHour:    cfg.OTP.MaxIssuesPerHour,
		MaxFailedVerifies:   cfg.OTP.MaxFailedVerifies,
		LockoutWindow:       cfg.OTP.LockoutWindow,
		HashCost:            cfg.OTP.HashCost,
		AutoCreateCustomers: cfg.OTP.AutoCreateCustomers,
		NotifyTimeout:       cfg.Notify.Timeout,
		NotifyWait:          cfg.Notify.Wait,
	}, metrics)
	sessions := session.NewManager(st, cfg.Session.TTL, metrics)

	return &services{
		telemetry:   tp,
		resolver:    res,
		provisioner: prov,
		worker:      worker,
		sessions:    sessions,
		sweeper:     session.NewSweeper(sessions, cfg.Session.SweepInterval),
		login:       portal.NewLoginService(auth, sessions, st, cfg.OTP.AutoCreateCustomers),
	}, nil
}

func newRouter(cfg *config.Config, st store.Store, ca cache.Cache, svc *services) http.Handler {
	cookie := handler.CookieConfig{
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.TTL,
	}

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(ca, cfg.RateLimit.PerMinute),
		Tenant:    mw.NewTenant(svc.resolver, cfg.Portal.TrustForwardedHost),
		Session:   mw.NewSession(svc.sessions),

		TrustProxy: cfg.Portal.TrustForwardedHost,

		HealthHandler:  handler.NewHealthHandler(st, ca),
		MetricsHandler: handler.NewMetricsHandler(svc.telemetry),

		PutDomainHandler:    handler.NewPutDomainHandler(svc.provisioner),
		GetDomainHandler:    handler.NewGetDomainHandler(svc.provisioner),
		DeleteDomainHandler: handler.NewDeleteDomainHandler(svc.provisioner),
		DomainEventsHandler: handler.NewDomainEventsHandler(svc.provisioner),

		LookupDomainHandler: handler.NewLookupDomainHandler(svc.resolver),
		PortalTenantHandler: handler.NewPortalTenantHandler(),
		RequestCodeHandler:  handler.NewRequestCodeHandler(svc.login),
		VerifyCodeHandler:   handler.NewVerifyCodeHandler(svc.login, cookie),
		LogoutHandler:       handler.NewLogoutHandler(svc.sessions, cookie),
		MeHandler:           handler.NewMeHandler(),
	})
}

func serve(ctx context.Context, _ *cli.Command) error {
	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	cfg := b.cfg

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	provider, err := edge.NewProvider(cfg.Edge)
	if err != nil {
		return fmt.Errorf("create edge provider: %w", err)
	}
	notifier, err := notify.NewNotifier(cfg.Notify, cfg.OTP.TTL)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	slog.Info("providers initialized", "edge", provider.Name(), "notify", notifier.Name())

	svc, err := newServices(cfg, b.store, b.cache, provider, notifier)
	if err != nil {
		return err
	}

	svc.worker.Start(ctx)
	defer svc.worker.Close()
	svc.sweeper.Start(ctx)
	defer svc.sweeper.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, b.store, b.cache, svc),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func retryDomain(ctx context.Context, c *cli.Command) error {
	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	provider, err := edge.NewProvider(b.cfg.Edge)
	if err != nil {
		return fmt.Errorf("create edge provider: %w", err)
	}
	svc, err := newServices(b.cfg, b.store, b.cache, provider, notify.NewLogNotifier(slog.Default()))
	if err != nil {
		return err
	}

	tenantID := c.Int64("tenant")
	status, err := svc.provisioner.Retry(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("retry custom domain for tenant %d: %w", tenantID, err)
	}
	slog.Info("custom domain retry scheduled", "tenant_id", tenantID, "hostname", status.Hostname, "status", status.InternalStatus())
	return nil
}

func sweepSessions(ctx context.Context, _ *cli.Command) error {
	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	n, err := session.NewManager(b.store, b.cfg.Session.TTL, nil).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	slog.Info("expired sessions deleted", "count", n)
	return nil
}
