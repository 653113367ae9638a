package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/hybernia/storefront/internal/app"
	"github.com/hybernia/storefront/internal/inventory"
	"github.com/hybernia/storefront/internal/invoice"
	"github.com/hybernia/storefront/internal/observability"
	"github.com/hybernia/storefront/internal/platform/cache"
	"github.com/hybernia/storefront/internal/platform/db"
	"github.com/hybernia/storefront/internal/shared"
	"github.com/hybernia/storefront/jobs"
)

// lowStockNotifier enqueues an alert whenever a committed outbound
// movement leaves a variant at or below the configured threshold.
type lowStockNotifier struct {
	client    *jobs.Client
	threshold int64
	logger    *slog.Logger
}

func (n lowStockNotifier) HandleStockMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if n.client == nil || evt.Delta >= 0 || evt.Available > n.threshold {
		return nil
	}
	_, err := n.client.EnqueueLowStock(ctx, jobs.LowStockPayload{
		VariantID: evt.VariantID,
		SKU:       evt.SKU,
		Available: evt.Available,
		Threshold: n.threshold,
	})
	if err != nil {
		// Alerting must not fail the movement that triggered it.
		n.logger.Warn("enqueue low stock alert", slog.Any("error", err))
	}
	return nil
}

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

	logger := app.NewLogger(cfg).With(slog.String("instance", uuid.NewString()))

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, availability cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

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

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryRepo := inventory.NewRepository(dbpool)
	availabilityCache := inventory.NewCache(redisClient, cfg.AvailabilityCacheTTL)
	notifier := lowStockNotifier{client: jobClient, threshold: cfg.LowStockThreshold, logger: logger}
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, availabilityCache, notifier)

	invoiceService := invoice.NewService(inventoryService, inventoryRepo, auditLogger)

	metrics := observability.NewMetrics()

	inventoryHandler := inventory.NewHandler(logger, inventoryService, idempotencyStore)
	invoiceHandler := invoice.NewHandler(logger, invoiceService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventoryHandler,
		InvoiceHandler:   invoiceHandler,
		JobHandler:       jobHandler,
		Pool:             dbpool,
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
