package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rehabflow/clinic-platform/cmd/mainconfig"
	"github.com/rehabflow/clinic-platform/internal/api/router"
	"github.com/rehabflow/clinic-platform/internal/booking"
	appconfig "github.com/rehabflow/clinic-platform/internal/config"
	httpmiddleware "github.com/rehabflow/clinic-platform/internal/http/middleware"
	"github.com/rehabflow/clinic-platform/internal/ledger"
	"github.com/rehabflow/clinic-platform/internal/notify"
	"github.com/rehabflow/clinic-platform/internal/observability/metrics"
	"github.com/rehabflow/clinic-platform/internal/ops"
	"github.com/rehabflow/clinic-platform/internal/referral"
	"github.com/rehabflow/clinic-platform/internal/scheduling"
	"github.com/rehabflow/clinic-platform/internal/syncengine"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	var inHouseOrgID uuid.UUID
	if cfg.InHouseOrgID != "" {
		if inHouseOrgID, err = uuid.Parse(cfg.InHouseOrgID); err != nil {
			logger.Error("invalid IN_HOUSE_ORG_ID", "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := metrics.NewSyncMetrics(registry)

	bookingRepo := booking.NewRepository(pool)
	caseRepo := referral.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	sessionLedger := ledger.New(ledgerRepo, syncMetrics, logger)

	notifier := notify.NewService(buildEmailSender(ctx, cfg, logger), cfg.OperatorEmail, logger)

	coordinator := syncengine.NewCoordinator(syncengine.Config{
		DB:       pool,
		Bookings: bookingRepo,
		Cases:    caseRepo,
		Ledger:   sessionLedger,
		Checker:  scheduling.NewOverlapChecker(logger),
		Machine:  referral.NewMachine(inHouseOrgID),
		Notifier: notifier,
		Recent:   syncengine.NewRecentLog(cfg.RecentEventsCapacity),
		Metrics:  syncMetrics,
		Logger:   logger,
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go ledger.NewExpirySweeper(pool, logger).Run(sweepCtx)

	var rateLimiter *httpmiddleware.RedisRateLimiter
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting will fail open", "error", err)
		}
		rateLimiter = httpmiddleware.NewRedisRateLimiter(rdb, cfg.RateLimitPerWindow, cfg.RateLimitWindow, "rehabflow")
	}

	r := router.New(&router.Config{
		Logger:             logger,
		SyncHandler:        syncengine.NewHandler(coordinator, bookingRepo, caseRepo, logger),
		BundleHandler:      ledger.NewHandler(ledgerRepo, logger),
		OpsHandler:         ops.NewHandler(ops.NewRepository(pool), registry, coordinator.Recent(), logger),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AuthSecret:         cfg.AuthJWTSecret,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildEmailSender picks the notification transport from EMAIL_PROVIDER.
// Unset or unknown values fall back to the log-only stub.
func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		logger.Warn("sendgrid selected but not configured, using stub sender")
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("failed to load AWS config, using stub sender", "error", err)
			break
		}
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); s != nil {
			return s
		}
	}
	return notify.NewStubEmailSender(logger)
}
