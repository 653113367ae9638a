package invoice

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hybernia/storefront/internal/inventory"
	"github.com/hybernia/storefront/internal/platform/httpx"
	"github.com/hybernia/storefront/internal/shared"
)

// Handler wires HTTP endpoints for invoice ingestion.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the invoice handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/manual", h.handleManual)
}

type manualRequest struct {
	InvoiceNumber string  `json:"invoice_number" validate:"required"`
	Supplier      string  `json:"supplier"`
	Reason        string  `json:"reason"`
	UnitCost      float64 `json:"unit_cost"`
	Reference     string  `json:"reference"`
	Items         []struct {
		VariantID int64   `json:"variant_id"`
		Quantity  int64   `json:"quantity"`
		UnitCost  float64 `json:"unit_cost"`
		Reason    string  `json:"reason"`
	} `json:"items" validate:"required,min=1"`
}

type manualResponse struct {
	InvoiceNumber string    `json:"invoice_number"`
	Entries       int       `json:"entries"`
	IngestedAt    time.Time `json:"ingested_at"`
}

func (h *Handler) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv := Invoice{
		Number:    req.InvoiceNumber,
		Supplier:  req.Supplier,
		Reason:    req.Reason,
		UnitCost:  req.UnitCost,
		Reference: req.Reference,
	}
	lines := make([]Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, Line{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
			Reason:    item.Reason,
		})
	}

	entries, err := h.service.IngestManual(r.Context(), inv, lines, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, manualResponse{
		InvoiceNumber: req.InvoiceNumber,
		Entries:       len(entries),
		IngestedAt:    time.Now().UTC(),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, inventory.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("invoice handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
