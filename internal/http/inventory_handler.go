package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// Inventory is implemented by *ledger.Ledger
type Inventory interface {
	Adjust(ctx context.Context, tenantID string, key domain.StockKey, delta int32,
		reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error)
	Stock(ctx context.Context, tenantID string, keys []domain.StockKey) ([]domain.StockInfo, error)
	History(ctx context.Context, tenantID string, key domain.StockKey, limit int) ([]domain.InventoryLogEntry, error)
}

type InventoryHandler struct {
	inventory Inventory
	timeout   time.Duration
	log       *zap.Logger
}

func NewInventoryHandler(inventory Inventory, timeout time.Duration, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
		timeout:   timeout,
		log:       log,
	}
}

type StockResponseDTO struct {
	ProductID        int64  `json:"product_id"`
	VariantID        int64  `json:"variant_id,omitempty"`
	Stock            int32  `json:"stock"`
	Reserved         int32  `json:"reserved"`
	Available        int32  `json:"available"`
	ReorderThreshold int32  `json:"reorder_threshold,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

type AdjustmentRequestDTO struct {
	VariantID int64  `json:"variant_id" validate:"min=0"`
	Delta     int32  `json:"delta" validate:"required,min=-1000000,max=1000000"`
	Reason    string `json:"reason" validate:"required,oneof=RETURN RESTOCK DAMAGE RECOUNT"`
	Reference string `json:"reference" validate:"max=128"`
}

type LogEntryDTO struct {
	ID            string `json:"id"`
	Adjustment    int32  `json:"adjustment"`
	ReservedDelta int32  `json:"reserved_delta"`
	Reason        string `json:"reason"`
	PreviousStock int32  `json:"previous_stock"`
	NewStock      int32  `json:"new_stock"`
	Reference     string `json:"reference,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func convertLogEntry(e domain.InventoryLogEntry) LogEntryDTO {
	return LogEntryDTO{
		ID:            e.ID,
		Adjustment:    e.Adjustment,
		ReservedDelta: e.ReservedDelta,
		Reason:        e.Reason.String(),
		PreviousStock: e.PreviousStock,
		NewStock:      e.NewStock,
		Reference:     e.Reference,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// stockKey reads product_id from the path and the optional variant_id query parameter
func stockKey(r *http.Request) (domain.StockKey, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		return domain.StockKey{}, false
	}
	key := domain.StockKey{ProductID: productID}
	if v := r.URL.Query().Get("variant_id"); v != "" {
		variantID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || variantID < 0 {
			return domain.StockKey{}, false
		}
		key.VariantID = variantID
	}
	return key, true
}

// GET /api/v1/inventory/{product_id}
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := getTenantID(r.Context())
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	key, ok := stockKey(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id and variant_id must be numeric")
		return
	}

	rows, err := h.inventory.Stock(ctx, tenantID, []domain.StockKey{key})
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	s := rows[0]
	respondJSON(w, http.StatusOK, StockResponseDTO{
		ProductID:        s.Key.ProductID,
		VariantID:        s.Key.VariantID,
		Stock:            s.Stock,
		Reserved:         s.Reserved,
		Available:        s.Available(),
		ReorderThreshold: s.ReorderThreshold,
		UpdatedAt:        s.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// POST /api/v1/inventory/{product_id}/adjustments
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := getTenantID(r.Context())
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	key, ok := stockKey(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be numeric")
		return
	}

	var req AdjustmentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid adjustment",
			Code:    "invalid_argument",
			Details: validationDetails(err),
		})
		return
	}
	key.VariantID = req.VariantID

	entry, err := h.inventory.Adjust(ctx, tenantID, key, req.Delta, domain.InventoryReason(req.Reason), req.Reference)
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}
	respondJSON(w, http.StatusCreated, convertLogEntry(entry))
}

// GET /api/v1/inventory/{product_id}/log
func (h *InventoryHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := getTenantID(r.Context())
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	key, ok := stockKey(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id and variant_id must be numeric")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	entries, err := h.inventory.History(ctx, tenantID, key, limit)
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}

	dtos := make([]LogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, convertLogEntry(e))
	}
	respondJSON(w, http.StatusOK, dtos)
}
