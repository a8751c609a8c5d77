package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/emberline/checkout-api/internal/domain/analytics"
	"github.com/emberline/checkout-api/internal/domain/checkout"
	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/handler"
	"github.com/emberline/checkout-api/internal/payment"
	"github.com/emberline/checkout-api/internal/storage/postgres"
	"github.com/emberline/checkout-api/pkg/health"
	"github.com/emberline/checkout-api/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Payment processor. A missing key keeps the service up with checkout
	// answering 503, so the rest of the API stays usable.
	var processor payment.Processor
	if cfg.Stripe.SecretKey == "" {
		lg.Warn("Stripe secret key not set, payment processing disabled")
		processor = payment.Disabled{}
	} else {
		processor = payment.NewStripeClient(payment.StripeConfig{
			SecretKey: cfg.Stripe.SecretKey,
			BaseURL:   cfg.Stripe.BaseURL,
			Timeout:   cfg.Stripe.Timeout,
		})
	}

	// Stores and domain services.
	couponStore := postgres.NewCouponStore(pool)
	orderStore := postgres.NewOrderStore(pool)
	analyticsStore := postgres.NewAnalyticsStore(pool)

	issuer := coupon.NewIssuer(couponStore)
	checkoutSvc := checkout.NewService(couponStore, issuer, processor, checkout.SessionConfig{
		SuccessURL:       cfg.Checkout.SuccessURL,
		CancelURL:        cfg.Checkout.CancelURL,
		LoyaltyThreshold: cfg.Checkout.LoyaltyThreshold,
	})
	settler := checkout.NewSettler(processor, couponStore, orderStore)
	analyticsSvc := analytics.NewService(analyticsStore)

	// Routes.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.New(checkoutSvc, settler, analyticsSvc).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", httpmiddleware.InstrumentConfig{
				TracerProvider: m.TracerProvider(),
				MeterProvider:  m.MeterProvider(),
			}),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
