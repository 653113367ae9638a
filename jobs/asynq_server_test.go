package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, t *asynq.Task) error { return nil }

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)

	_, err = NewWorker(WorkerConfig{
		Handlers: []TaskHandler{{Type: TaskInventoryReconcile}},
	})
	require.Error(t, err, "a handler without a func must be rejected")
}

func TestNewWorkerRejectsInvalidCron(t *testing.T) {
	task, err := NewReconcileTask(time.Now().UTC())
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		Handlers: []TaskHandler{{Type: TaskInventoryReconcile, Handler: noopHandler}},
		Cron:     []CronRegistration{{Spec: "not a cron expression", Task: task}},
	})
	require.Error(t, err)
}

func TestHandleLowStockTaskBadPayload(t *testing.T) {
	err := HandleLowStockTask(context.Background(), asynq.NewTask(TaskInventoryLowStock, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleLowStockTask(t *testing.T) {
	task, err := NewLowStockTask(LowStockPayload{VariantID: 1, SKU: "TEE-RED-M", Available: 2, Threshold: 5})
	require.NoError(t, err)
	require.NoError(t, HandleLowStockTask(context.Background(), task))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	handler := NewHandler(nil, nil)
	r := chi.NewRouter()
	r.Route("/jobs", handler.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status queueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, QueueDefault, status.Queue)
	assert.Zero(t, status.Pending)
}
