package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/hybernia/storefront/internal/jobs"
)

// ReconcileJob cross-checks the variant counters against the sources of
// truth: on-hand must equal the sum of ledger deltas and reserved must
// equal the sum of active reservation quantities. Drift means some
// writer bypassed the engine; the job reports, it does not correct.
type ReconcileJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type counterDrift struct {
	VariantID int64
	Counter   int64
	Expected  int64
}

// Handle executes the reconciliation scan.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInventoryReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting inventory reconciliation")

	ledgerDrift, err := j.scan(ctx, `SELECT v.id, v.on_hand, COALESCE(l.total, 0)
FROM variants v
LEFT JOIN (SELECT variant_id, SUM(delta) AS total FROM stock_ledger GROUP BY variant_id) l ON l.variant_id = v.id
WHERE v.on_hand <> COALESCE(l.total, 0)`)
	if err != nil {
		resultErr = err
		return resultErr
	}
	reservedDrift, err := j.scan(ctx, `SELECT v.id, v.reserved, COALESCE(r.total, 0)
FROM variants v
LEFT JOIN (SELECT variant_id, SUM(qty) AS total FROM reservations WHERE state = 'RESERVED' GROUP BY variant_id) r ON r.variant_id = v.id
WHERE v.reserved <> COALESCE(r.total, 0)`)
	if err != nil {
		resultErr = err
		return resultErr
	}

	for _, d := range ledgerDrift {
		logger.Warn("on-hand counter drift",
			slog.Int64("variant_id", d.VariantID),
			slog.Int64("on_hand", d.Counter),
			slog.Int64("ledger_sum", d.Expected))
	}
	for _, d := range reservedDrift {
		logger.Warn("reserved counter drift",
			slog.Int64("variant_id", d.VariantID),
			slog.Int64("reserved", d.Counter),
			slog.Int64("reservation_sum", d.Expected))
	}
	j.Metrics.AddDrift("on_hand", len(ledgerDrift))
	j.Metrics.AddDrift("reserved", len(reservedDrift))

	logger.Info("inventory reconciliation finished",
		slog.Int("on_hand_drift", len(ledgerDrift)),
		slog.Int("reserved_drift", len(reservedDrift)))
	return nil
}

func (j *ReconcileJob) scan(ctx context.Context, query string) ([]counterDrift, error) {
	rows, err := j.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []counterDrift
	for rows.Next() {
		var d counterDrift
		if err := rows.Scan(&d.VariantID, &d.Counter, &d.Expected); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
