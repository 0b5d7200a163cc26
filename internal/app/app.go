// Package app wires storage, domain engines and the HTTP API into a running
// server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/order"
	"github.com/xenking/kart-rewards/internal/domain/reward"
	"github.com/xenking/kart-rewards/internal/handler"
	"github.com/xenking/kart-rewards/internal/storage/postgres"
	"github.com/xenking/kart-rewards/pkg/health"
	"github.com/xenking/kart-rewards/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, t *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	srv, err := newServer(pool, t.MeterProvider(), t.TracerProvider(), cfg)
	if err != nil {
		return err
	}
	monitor, limiter := srv.monitor, srv.limiter

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(srv.handler,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx, cfg.Health.Interval)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		monitor.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		monitor.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// rateLimitKey buckets authenticated callers by user id and anonymous ones by
// client address. It must run after the authenticator.
func rateLimitKey(clientIP func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if p, ok := auth.FromContext(r.Context()); ok && p.UserID != "" {
			return "user:" + p.UserID
		}
		return "ip:" + clientIP(r)
	}
}

// server is the HTTP API with the background components it depends on.
type server struct {
	handler http.Handler
	monitor *health.Monitor
	limiter *httpmiddleware.RateLimiter
}

// newServer wires repositories, engines and routes on top of pool.
func newServer(
	pool *pgxpool.Pool,
	meters metric.MeterProvider,
	tracers trace.TracerProvider,
	cfg *Config,
) (*server, error) {
	shippingFee, err := cfg.ShippingFee()
	if err != nil {
		return nil, err
	}

	monitor := health.NewMonitor(health.Options{})
	monitor.Register(health.Check{
		Name:    "postgres",
		Probe:   health.Readiness,
		Timeout: cfg.Health.DatabaseTimeout,
		Func:    health.PingCheck(pool),
	})
	monitor.Register(health.Check{
		Name:  "goroutines",
		Probe: health.Liveness,
		Func:  health.GoroutineCountCheck(cfg.Health.MaxGoroutines),
	})
	monitor.Register(health.Check{
		Name:  "gc_pause",
		Probe: health.Liveness,
		Func:  health.GCMaxPauseCheck(cfg.Health.MaxGCPause),
	})

	metrics, err := NewMetrics(meters, tracers)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	rewardRepo := postgres.NewRewardRepository(pool)

	// Domain engines.
	users := auth.ContextProvider{}
	coupons := &instrumentedCoupons{Engine: coupon.NewEngine(couponRepo), m: metrics}
	orders := order.NewService(order.Config{ShippingFee: shippingFee}, productRepo, coupons, orderRepo, users)
	rewards := &instrumentedRewards{
		Engine: reward.NewEngine(rewardRepo, coupons, customerRepo, users),
		m:      metrics,
	}

	h := handler.New(handler.Config{
		ImageBaseURL:    cfg.ImageBaseURL,
		LeaderboardSize: cfg.Rewards.LeaderboardSize,
	}, coupons, productRepo, orders, rewards, customerRepo, users)
	authn := handler.NewAuthenticator([]byte(cfg.JWTSecret))
	trusted, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Rate:    cfg.RateLimit.Rate,
		Burst:   cfg.RateLimit.Burst,
		Idle:    cfg.RateLimit.Idle,
		KeyFunc: rateLimitKey(httpmiddleware.ForwardedClientIP(trusted)),
	})

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
		ExposedHeaders:   []string{httpmiddleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           86400,
	}))
	router.Method(http.MethodGet, "/livez", monitor.Handler(health.Liveness))
	router.Method(http.MethodGet, "/readyz", monitor.Handler(health.Readiness))
	h.Routes(router, authn.Middleware, limiter.Middleware())

	return &server{
		handler: otelhttp.NewHandler(router, "rewards-api",
			otelhttp.WithMeterProvider(meters),
			otelhttp.WithTracerProvider(tracers),
		),
		monitor: monitor,
		limiter: limiter,
	}, nil
}
