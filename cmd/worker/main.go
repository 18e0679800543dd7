package main

import (
	"context"
	"log/slog"
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
	jobmetrics "github.com/cargodesk/cargodesk/internal/jobs"
	"github.com/cargodesk/cargodesk/internal/payment"
	"github.com/cargodesk/cargodesk/internal/platform/db"
	"github.com/cargodesk/cargodesk/internal/reporting"
	"github.com/cargodesk/cargodesk/internal/shared"
	"github.com/cargodesk/cargodesk/jobs"
)

const idempotencyRetention = 30 * 24 * time.Hour

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	clock := shared.SystemClock{}
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := jobmetrics.NewMetrics(nil)

	bookingRepo := booking.NewRepository(pool)
	bookingService := booking.NewService(bookingRepo, clock, logger)

	apRepo := ap.NewRepository(pool)
	apService := ap.NewService(apRepo, bookingService, auditLogger, logger)

	arRepo := ar.NewRepository(pool)
	arService := ar.NewService(arRepo, bookingService, apService, clock, auditLogger, logger)

	provider := payment.NewPayMongoClient(cfg.PayMongoBaseURL, cfg.PayMongoSecretKey, cfg.ProviderTimeout)
	paymentRepo := payment.NewRepository(pool)
	paymentService := payment.NewService(paymentRepo, bookingService, arService, provider, nil, clock, auditLogger, logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	reportingCache := reporting.NewCache(redisClient, cfg.DashboardCacheTTL)
	reportingService := reporting.NewService(reporting.NewRepository(pool), reportingCache, clock, logger)

	// Sweep settlements and cancellations drop the cached dashboard too.
	arService.SetReportInvalidator(reportingService)
	paymentService.SetReportInvalidator(reportingService)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPaymentSweep, Handler: jobs.NewPaymentSweepHandler(paymentService, cfg.PaymentPendingTTL, metrics, logger)},
			{Type: jobs.TaskNotifyBankInstructions, Handler: jobs.NewBankInstructionsHandler(metrics, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, idempotencyRetention, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: jobs.NewPaymentSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
