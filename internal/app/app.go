package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/events/kafka"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/jobs"
	"github.com/xenking/kart-orders/internal/notify/sendgrid"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	redisstore "github.com/xenking/kart-orders/internal/storage/redis"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the job
// scheduler, and handles graceful shutdown. It is the single wiring point for
// the application.
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
	st := newStores(postgres.NewDB(pool))

	// Health check service.
	healthSvc := health.New(lg)
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Outbound adapters.
	writer := kafka.NewWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	defer func() {
		if err := writer.Close(); err != nil {
			lg.Error("Close kafka writer", zap.Error(err))
		}
	}()
	mail := sendgrid.Settings{
		FromEmail:  cfg.SendGrid.FromEmail,
		FromName:   cfg.SendGrid.FromName,
		AdminEmail: cfg.SendGrid.AdminEmail,
		Templates:  cfg.SendGrid.Templates,
	}
	if cfg.SendGrid.APIKey == "" {
		// Without templates nothing is sent.
		mail.Templates = nil
		lg.Info("Email disabled: no SendGrid api key")
	}
	fx := sideEffects{
		events:   kafka.NewPublisher(writer, cfg.Kafka.WriteTimeout),
		notifier: sendgrid.NewNotifier(sendgrid.NewClient(cfg.SendGrid.APIKey), mail),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		counter := redisstore.NewOrderNumberCounter(rdb, "kart-orders:")
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", counter))
		fx.sequence = counter
	}

	eng, err := buildEngine(ctx, lg, m, cfg, st, fx)
	if err != nil {
		return err
	}

	// Background jobs.
	scheduler := jobs.NewScheduler(lg, cfg.Scheduler.JobTimeout)
	if spec := cfg.Scheduler.ReconcileSpec; spec != "" {
		job := jobs.NewStockReconciliation(eng.Orders, lg, cfg.Scheduler.ReconcileLimit, cfg.Scheduler.ReconcileRetry)
		if err := scheduler.Add("stock_reconciliation", spec, func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		}); err != nil {
			return errors.Wrap(err, "schedule stock reconciliation")
		}
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.New(handler.Deps{
		Orders:   eng.Orders,
		Coupons:  eng.Coupons,
		Carts:    st.carts,
		Products: st.products,
		APIKeys:  st.apiKeys,
		Pepper:   cfg.APIKeyPepper,
	})

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("kart-orders", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Recovery(),
		)
		h.Mount(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.APIKeyOrIP,
			}),
		),
	}

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		if err := scheduler.Run(ctx); err != nil {
			lg.Error("Scheduler stopped", zap.Error(err))
		}
	}()

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

	lg.Info("Server listening", zap.String("addr", cfg.Addr), zap.Int("jobs", scheduler.Entries()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	<-jobsDone
	return nil
}
