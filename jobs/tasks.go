package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile verifies the ledger and reservation sums
	// against the variant counters.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskInventoryLowStock alerts on variants below the configured
	// availability threshold.
	TaskInventoryLowStock = "inventory:low_stock"
	// TaskIdempotencyCleanup purges aged idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LowStockPayload describes a variant that dropped below the threshold.
type LowStockPayload struct {
	VariantID int64  `json:"variant_id"`
	SKU       string `json:"sku"`
	Available int64  `json:"available"`
	Threshold int64  `json:"threshold"`
}

// NewLowStockTask constructs an Asynq task for a low-stock alert.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryLowStock, data, asynq.Queue(QueueDefault)), nil
}

// HandleLowStockTask processes TaskInventoryLowStock tasks. Delivery to
// the shop operators happens here; for now the alert is logged.
func HandleLowStockTask(ctx context.Context, t *asynq.Task) error {
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Default().Warn("low stock",
		slog.Int64("variant_id", payload.VariantID),
		slog.String("sku", payload.SKU),
		slog.Int64("available", payload.Available),
		slog.Int64("threshold", payload.Threshold))
	return nil
}

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconcileTask constructs an Asynq task for the nightly scan.
func NewReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// CleanupPayload configures the idempotency purge.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
