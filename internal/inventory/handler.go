package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hybernia/storefront/internal/platform/httpx"
	"github.com/hybernia/storefront/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.handleAdjustment)
	r.Get("/variants/{variantID}/availability", h.handleAvailability)
	r.Get("/variants/{variantID}/history", h.handleHistory)
}

type adjustmentRequest struct {
	VariantID int64          `json:"variant_id" validate:"required,gt=0"`
	Delta     int64          `json:"delta" validate:"required"`
	Reason    string         `json:"reason" validate:"required"`
	Reference string         `json:"reference"`
	Metadata  map[string]any `json:"metadata"`
}

type ledgerEntryResponse struct {
	ID        int64          `json:"id"`
	VariantID int64          `json:"variant_id"`
	Delta     int64          `json:"delta"`
	Reason    string         `json:"reason"`
	Reference string         `json:"reference,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	// Retried admin form posts carry an idempotency key so a double
	// submit cannot adjust stock twice.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "inventory"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "adjustment already processed")
				return
			}
			h.respondError(w, "idempotency check", err)
			return
		}
	}

	entry, err := h.service.Adjust(r.Context(), AdjustmentInput{
		VariantID: req.VariantID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		Reference: req.Reference,
		Metadata:  req.Metadata,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		if idemKey != "" && h.idempotency != nil {
			_ = h.idempotency.Delete(r.Context(), idemKey)
		}
		h.respondError(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLedgerEntryResponse(entry))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variantID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Variant", err.Error())
		return
	}
	snapshot, err := h.service.Availability(r.Context(), variantID)
	if err != nil {
		h.respondError(w, "availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variantID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Variant", err.Error())
		return
	}
	filter, err := parseHistoryFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}

	entries, page, err := h.service.HistoryForVariant(r.Context(), variantID, filter)
	if err != nil {
		h.respondError(w, "history", err)
		return
	}
	payload := make([]ledgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, toLedgerEntryResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    payload,
		"pagination": page,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNegativeStock),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrDuplicateReservation):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Quantity", err.Error())
	default:
		h.logger.Error("inventory handler", slog.String("op", op), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toLedgerEntryResponse(entry LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:        entry.ID,
		VariantID: entry.VariantID,
		Delta:     entry.Delta,
		Reason:    entry.Reason,
		Reference: entry.Reference,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	var filter HistoryFilter
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return HistoryFilter{}, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return HistoryFilter{}, fmt.Errorf("invalid to: %w", err)
		}
		filter.To = t
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return HistoryFilter{}, fmt.Errorf("invalid page: %w", err)
		}
		filter.Page = page
	}
	if raw := q.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil {
			return HistoryFilter{}, fmt.Errorf("invalid per_page: %w", err)
		}
		filter.PerPage = perPage
	}
	return filter, nil
}
