package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	svc     checkout.Service
	timeout time.Duration
	log     *zap.Logger
}

func NewCheckoutHandler(svc checkout.Service, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		svc:     svc,
		timeout: timeout,
		log:     log,
	}
}

type CheckoutRequestDTO struct {
	CartID            string `json:"cart_id" validate:"required"`
	ShippingAddressID string `json:"shipping_address_id"`
	BillingAddressID  string `json:"billing_address_id"`
	PaymentMethod     string `json:"payment_method" validate:"required,oneof=CARD CASH_ON_DELIVERY BANK_TRANSFER"`
	CouponCode        string `json:"coupon_code" validate:"max=64"`
}

type RetryPaymentRequestDTO struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=CARD CASH_ON_DELIVERY BANK_TRANSFER"`
}

type CheckoutResponseDTO struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	ReservationID string `json:"reservation_id,omitempty"`
	Status        string `json:"status"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	ClientSecret  string `json:"client_secret,omitempty"`
	Existing      bool   `json:"existing,omitempty"`
}

func convertResult(res *checkout.Result) CheckoutResponseDTO {
	return CheckoutResponseDTO{
		OrderID:       res.OrderID,
		OrderNumber:   res.OrderNumber,
		ReservationID: res.ReservationID,
		Status:        res.Status.String(),
		Total:         res.Total.StringFixed(2),
		Currency:      res.Currency,
		ClientSecret:  res.PaymentHandle,
		Existing:      res.Existing,
	}
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID, userID := getTenantID(r.Context()), getUserID(r.Context())
	if tenantID == "" || userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing tenant or user")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid checkout request",
			Code:    "invalid_argument",
			Details: validationDetails(err),
		})
		return
	}

	res, err := h.svc.Checkout(ctx, checkout.Request{
		TenantID:          tenantID,
		UserID:            userID,
		CartID:            req.CartID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		PaymentMethod:     domain.PaymentMethod(req.PaymentMethod),
		CouponCode:        req.CouponCode,
	})
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	respondJSON(w, status, convertResult(res))
}

// POST /api/v1/orders/{order_id}/retry
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
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

	// the body is optional, an empty one keeps the original payment method
	var req RetryPaymentRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid retry request",
			Code:    "invalid_argument",
			Details: validationDetails(err),
		})
		return
	}

	res, err := h.svc.RetryPayment(ctx, checkout.RetryRequest{
		TenantID:      tenantID,
		UserID:        userID,
		OrderID:       orderID,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}
	respondJSON(w, http.StatusOK, convertResult(res))
}

// POST /api/v1/orders/{order_id}/cancel
func (h *CheckoutHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.svc.CancelCheckout(ctx, tenantID, userID, orderID)
	if err != nil {
		handleServiceError(w, logger.FromContext(ctx, h.log), err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}
