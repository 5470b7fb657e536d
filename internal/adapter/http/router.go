package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Services are the application services the API exposes.
type Services struct {
	Registry     *app.Registry
	Queue        *app.ProvisioningQueue
	Entitlements *app.EntitlementManager
	Access       *app.AccessService
	Orders       *app.OrderEvents
	Identity     domain.IdentityStore
}

// Config configures the router.
type Config struct {
	ServiceName   string
	Version       string
	AdminToken    string
	WebhookSecret string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Health backs /healthz; nil always reports healthy.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter builds the chi router with every API operation registered.
func NewRouter(svc Services, cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tenantgate"
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware(cfg.ServiceName, otelchi.WithChiRoutes(router)))
	router.Use(accessLog(cfg.Logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				cfg.Logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	api := humachi.New(router, huma.DefaultConfig(cfg.ServiceName, cfg.Version))
	Register(api, svc, cfg)
	return router
}

// Register adds every operation to api. Admin operations live under
// /api/v1/admin behind the operator token.
func Register(api huma.API, svc Services, cfg Config) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registerDashboard(api, &dashboard{
		access:       svc.Access,
		registry:     svc.Registry,
		entitlements: svc.Entitlements,
		identity:     svc.Identity,
		logger:       logger,
		now:          time.Now,
	})
	registerSessions(api, svc.Access)
	registerWebhooks(api, svc.Orders, cfg.WebhookSecret, logger)

	grp := huma.NewGroup(api, "/api/v1/admin")
	grp.UseMiddleware(adminAuth(api, cfg.AdminToken))
	a := &admin{
		registry:     svc.Registry,
		queue:        svc.Queue,
		entitlements: svc.Entitlements,
		access:       svc.Access,
	}
	registerAdminTenants(grp, a)
	registerAdminQueue(grp, a)
	registerAdminModules(grp, a)
	registerAdminKeys(grp, a)
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
