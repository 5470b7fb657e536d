package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/tenantgate/internal/adapter/commerce"
	"github.com/neomorfeo/tenantgate/internal/adapter/fsm"
	"github.com/neomorfeo/tenantgate/internal/adapter/jwt"
	"github.com/neomorfeo/tenantgate/internal/adapter/mailer"
	"github.com/neomorfeo/tenantgate/internal/adapter/mysql"
	"github.com/neomorfeo/tenantgate/internal/adapter/otel"
	"github.com/neomorfeo/tenantgate/internal/adapter/ratelimit"
	"github.com/neomorfeo/tenantgate/internal/adapter/river"
	"github.com/neomorfeo/tenantgate/internal/adapter/sealed"
	"github.com/neomorfeo/tenantgate/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantgate/internal/adapter/vault"
	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/config"
	"github.com/neomorfeo/tenantgate/internal/domain"
	"github.com/neomorfeo/tenantgate/internal/logger"
	"github.com/neomorfeo/tenantgate/internal/metrics"

	handler "github.com/neomorfeo/tenantgate/internal/adapter/http"
)

const serviceName = "tenantgate"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("tenantgate: %v", err)
	}
}

// run wires the service and blocks until SIGINT or SIGTERM, then shuts the
// HTTP server and the job client down gracefully.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, otel.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			zl.Warn("otel shutdown", zap.Error(err))
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store, err := sqlite.NewFromDB(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	databases, closeDatabases, err := newDatabaseProvisioner(cfg.Provisioner, zl)
	if err != nil {
		return err
	}
	defer closeDatabases()

	credentials, err := newCredentialStore(cfg.Credentials, store)
	if err != nil {
		return err
	}

	limiter, closeLimiter := newRateLimiter(cfg.Auth)
	defer closeLimiter()

	codec, err := jwt.NewCodec(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("session codec: %w", err)
	}

	if cfg.Commerce.BaseURL == "" {
		zl.Warn("commerce.base_url is empty; order webhooks cannot fetch orders")
	}
	gateway := commerce.NewClient(commerce.Config{
		BaseURL:        cfg.Commerce.BaseURL,
		ConsumerKey:    cfg.Commerce.ConsumerKey,
		ConsumerSecret: cfg.Commerce.ConsumerSecret,
		Timeout:        cfg.Commerce.Timeout,
		RetryMax:       cfg.Commerce.RetryMax,
	}, zl)

	// --- Jobs ---
	jobs := &river.Jobs{
		Mailer: mailer.NewLogMailer(zl.Named("mailer")),
		Logger: zl.Named("jobs"),
	}
	client, err := river.Setup(ctx, store.DB(), jobs, river.Config{
		MaxWorkers:    cfg.Queue.Workers,
		PassInterval:  cfg.Queue.PassInterval,
		SweepInterval: cfg.Entitlements.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("river setup: %w", err)
	}
	notifier := otel.NewTracingNotifier(river.NewNotifier(client, zl.Named("notifier")))

	// --- Application ---
	recorder := metrics.New()
	appOpts := []app.Option{app.WithLogger(zl), app.WithRecorder(recorder)}

	tenants := otel.NewTracingRepository(store.Tenants())
	transitions := fsm.NewTenant()
	provisioning := app.NewProvisioning(tenants, transitions, databases, credentials,
		store.Audit(), notifier, appOpts...)
	queue := app.NewProvisioningQueue(store.Queue(), store.Leases(), provisioning, notifier,
		river.NewTrigger(client), app.QueueSettings{
			MaxRetries: cfg.Queue.MaxRetries,
			BatchSize:  cfg.Queue.BatchSize,
			LeaseTTL:   cfg.Queue.LeaseTTL,
		}, appOpts...)
	registry := app.NewRegistry(app.RegistryDeps{
		Tenants:      tenants,
		Identity:     store.Identity(),
		Validator:    app.NewValidator(store.Identity(), tenants, cfg.Tenants.SubdomainSuffix),
		Transitions:  transitions,
		Provisioning: provisioning,
		Queue:        queue,
		Audit:        store.Audit(),
		Notifier:     notifier,
	}, app.TenantSettings{
		SubdomainSuffix: cfg.Tenants.SubdomainSuffix,
		DatabasePrefix:  cfg.Tenants.DatabasePrefix,
		StorageLimit:    cfg.Tenants.StorageLimit,
		UserLimit:       cfg.Tenants.UserLimit,
		AutoProvision:   cfg.Tenants.AutoProvision,
		DefaultPriority: cfg.Tenants.DefaultPriority,
	}, appOpts...)
	entitlements := app.NewEntitlementManager(store.Modules(), store.Entitlements(), tenants,
		fsm.NewEntitlement(), store.Audit(), cfg.Entitlements.GraceDays, appOpts...)
	orders := app.NewOrderEvents(gateway, store.Orders(), store.Identity(), registry, entitlements,
		notifier, appOpts...)
	access := app.NewAccessService(codec, store.APIKeys(), store.Identity(), registry, limiter,
		app.AccessSettings{
			SessionTTL:   cfg.Auth.SessionTTL,
			KeyRateLimit: cfg.Auth.KeyRateLimit,
			RateWindow:   cfg.Auth.RateWindow,
		}, appOpts...)

	jobs.RunPass = func(ctx context.Context) error {
		_, err := queue.RunPass(ctx)
		return err
	}
	jobs.Sweep = entitlements.CheckExpired

	// --- Adapters (in) ---
	router := handler.NewRouter(handler.Services{
		Registry:     registry,
		Queue:        queue,
		Entitlements: entitlements,
		Access:       access,
		Orders:       orders,
		Identity:     store.Identity(),
	}, handler.Config{
		ServiceName:   serviceName,
		Version:       version,
		AdminToken:    cfg.HTTP.AdminToken,
		WebhookSecret: cfg.HTTP.WebhookSecret,
		Metrics:       recorder.Handler(),
		Health:        store.DB().PingContext,
		Logger:        zl.Named("http"),
	})
	if cfg.HTTP.AdminToken == "" {
		zl.Warn("http.admin_token is empty; the admin API rejects every request")
	}

	// --- Server ---
	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("tenantgate listening",
			zap.String("addr", cfg.HTTP.ListenAddr),
			zap.String("version", version),
			zap.String("provisioner", cfg.Provisioner.Driver),
			zap.String("credentials", cfg.Credentials.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := client.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("river shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	zl.Info("stopped")
	return nil
}

// newDatabaseProvisioner builds the tenant database backend. The returned
// function releases its connections.
func newDatabaseProvisioner(cfg config.Provisioner, zl *zap.Logger) (domain.DatabaseProvisioner, func(), error) {
	switch cfg.Driver {
	case "mysql":
		db, err := mysql.Open(cfg.MySQL.DSN, cfg.MySQL.MaxOpen, cfg.MySQL.MaxIdle)
		if err != nil {
			return nil, nil, err
		}
		p, err := mysql.New(db, mysql.Options{
			GrantHost: cfg.MySQL.GrantHost,
			BackupDir: cfg.BackupDir,
			Logger:    zl.Named("mysql"),
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return otel.NewTracingProvisioner(p), func() { db.Close() }, nil
	default:
		p, err := sqlite.NewFileProvisioner(cfg.DataDir, cfg.BackupDir)
		if err != nil {
			return nil, nil, fmt.Errorf("tenant databases: %w", err)
		}
		return otel.NewTracingProvisioner(p), func() {}, nil
	}
}

func newCredentialStore(cfg config.Credentials, store *sqlite.Store) (domain.CredentialStore, error) {
	if cfg.Backend == "vault" {
		s, err := vault.New(vault.Config{
			Address: cfg.Vault.Address,
			Token:   cfg.Vault.Token,
			Mount:   cfg.Vault.Mount,
			Prefix:  cfg.Vault.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("vault credentials: %w", err)
		}
		return s, nil
	}
	sealer, err := sealed.NewFromBase64(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	return store.Credentials(sealer), nil
}

func newRateLimiter(cfg config.Auth) (domain.RateLimiter, func()) {
	if cfg.Limiter == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ratelimit.NewRedis(rdb, cfg.RedisPrefix), func() { _ = rdb.Close() }
	}
	return ratelimit.NewMemory(), func() {}
}
