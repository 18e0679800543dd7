package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/cargodesk/cargodesk/internal/ap"
	"github.com/cargodesk/cargodesk/internal/app"
	"github.com/cargodesk/cargodesk/internal/ar"
	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/observability"
	"github.com/cargodesk/cargodesk/internal/payment"
	"github.com/cargodesk/cargodesk/internal/platform/db"
	"github.com/cargodesk/cargodesk/internal/reporting"
	"github.com/cargodesk/cargodesk/internal/shared"
	"github.com/cargodesk/cargodesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	clock := shared.SystemClock{}
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	bookingRepo := booking.NewRepository(dbpool)
	bookingService := booking.NewService(bookingRepo, clock, logger)
	bookingHandler := booking.NewHandler(logger, bookingService)

	apRepo := ap.NewRepository(dbpool)
	apService := ap.NewService(apRepo, bookingService, auditLogger, logger)
	apHandler := ap.NewHandler(logger, apService)

	arRepo := ar.NewRepository(dbpool)
	arService := ar.NewService(arRepo, bookingService, apService, clock, auditLogger, logger)
	arHandler := ar.NewHandler(logger, arService)

	// Delivered bookings flow into the receivable engine through this hook.
	bookingService.SetIntegrationHandler(arService)

	provider := payment.NewPayMongoClient(cfg.PayMongoBaseURL, cfg.PayMongoSecretKey, cfg.ProviderTimeout)
	paymentRepo := payment.NewRepository(dbpool)
	paymentService := payment.NewService(paymentRepo, bookingService, arService, provider, jobClient, clock, auditLogger, logger)
	paymentHandler := payment.NewHandler(logger, paymentService)
	webhookHandler := payment.NewWebhookHandler(logger, paymentService, cfg.PayMongoWebhookSecret, cfg.IsProduction(), idempotencyStore, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	reportingRepo := reporting.NewRepository(dbpool)
	reportingCache := reporting.NewCache(redisClient, cfg.DashboardCacheTTL)
	reportingService := reporting.NewService(reportingRepo, reportingCache, clock, logger)
	reportingHandler := reporting.NewHandler(logger, reportingService)

	// Financial mutations drop the cached dashboard.
	arService.SetReportInvalidator(reportingService)
	apService.SetReportInvalidator(reportingService)
	paymentService.SetReportInvalidator(reportingService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		BookingHandler:   bookingHandler,
		ARHandler:        arHandler,
		APHandler:        apHandler,
		PaymentHandler:   paymentHandler,
		WebhookHandler:   webhookHandler,
		ReportingHandler: reportingHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
