package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	svc     checkout.Service
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(svc checkout.Service, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		svc:     svc,
		timeout: timeout,
		log:     log,
	}
}

type OrderItemDTO struct {
	ProductID   int64  `json:"product_id"`
	VariantID   int64  `json:"variant_id,omitempty"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type OrderResponseDTO struct {
	ID            string         `json:"id"`
	OrderNumber   string         `json:"order_number"`
	CartID        string         `json:"cart_id"`
	Status        string         `json:"status"`
	PaymentMethod string         `json:"payment_method"`
	Subtotal      string         `json:"subtotal"`
	Tax           string         `json:"tax"`
	Shipping      string         `json:"shipping"`
	Discount      string         `json:"discount"`
	Total         string         `json:"total"`
	Currency      string         `json:"currency"`
	CouponCode    string         `json:"coupon_code,omitempty"`
	Items         []OrderItemDTO `json:"items"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.Key.ProductID,
			VariantID:   item.Key.VariantID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal.StringFixed(2),
		})
	}

	return OrderResponseDTO{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		CartID:        o.CartID,
		Status:        o.Status.String(),
		PaymentMethod: string(o.PaymentMethod),
		Subtotal:      o.Subtotal.StringFixed(2),
		Tax:           o.Tax.StringFixed(2),
		Shipping:      o.Shipping.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		CouponCode:    o.CouponCode,
		Items:         items,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID, userID := getTenantID(r.Context()), getUserID(r.Context())
	if tenantID == "" || userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant or user")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
		return
	}

	orders, err := h.svc.ListOrders(ctx, tenantID, userID, limit, offset)
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID, userID := getTenantID(r.Context()), getUserID(r.Context())
	if tenantID == "" || userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant or user")
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.svc.GetOrder(ctx, tenantID, userID, orderID)
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}

// queryInt reads an optional non-negative integer query parameter, 0 when absent
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
