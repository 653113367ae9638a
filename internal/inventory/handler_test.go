package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	svc := NewService(repo, nil, nil, nil)
	handler := NewHandler(nil, svc, nil)
	r := chi.NewRouter()
	r.Route("/inventory", handler.MountRoutes)
	return r
}

func TestHandleAdjustment(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	router := newTestRouter(repo)

	body := `{"variant_id":1,"delta":5,"reason":"Stocktake correction","reference":"ST-2026-08"}`
	req := httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		ID     int64  `json:"id"`
		Delta  int64  `json:"delta"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.ID)
	assert.Equal(t, int64(5), resp.Delta)
	assert.Equal(t, "Stocktake correction", resp.Reason)
	assert.Equal(t, int64(15), repo.variants[1].OnHand)
}

func TestHandleAdjustmentNegativeStockConflict(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 2, TrackInventory: true})
	router := newTestRouter(repo)

	body := `{"variant_id":1,"delta":-5,"reason":"Damage write-off"}`
	req := httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int64(2), repo.variants[1].OnHand)
	assert.Empty(t, repo.ledger)
}

func TestHandleAdjustmentValidation(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	cases := []struct {
		name string
		body string
	}{
		{"missing reason", `{"variant_id":1,"delta":5}`},
		{"missing variant", `{"delta":5,"reason":"x"}`},
		{"malformed json", `{"variant_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAdjustmentUnknownVariant(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	body := `{"variant_id":42,"delta":5,"reason":"Receipt"}`
	req := httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAvailability(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10, Reserved: 4, TrackInventory: true})
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/inventory/variants/1/availability", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap Availability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(10), snap.OnHand)
	assert.Equal(t, int64(4), snap.Reserved)
	assert.Equal(t, int64(6), snap.Available)
}

func TestHandleAvailabilityBadVariant(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	for _, path := range []string{
		"/inventory/variants/abc/availability",
		"/inventory/variants/0/availability",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHandleHistory(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 0})
	svc := NewService(repo, nil, nil, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 1, Delta: 2, Reason: "Receipt"})
		require.NoError(t, err)
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/inventory/variants/1/history?page=1&per_page=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries    []ledgerEntryResponse `json:"entries"`
		Pagination struct {
			Total      int `json:"total"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, 3, resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
}

func TestHandleHistoryInvalidFilter(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1})
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/inventory/variants/1/history?from=not-a-time", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
