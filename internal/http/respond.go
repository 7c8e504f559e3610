package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type PaymentErrorDetails struct {
	OrderID   string `json:"order_id,omitempty"`
	Reason    string `json:"reason"`
	Temporary bool   `json:"temporary"`
}

var validate = validator.New()

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// validationDetails maps each failing field to the rule it broke
func validationDetails(err error) map[string]string {
	details := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["body"] = err.Error()
		return details
	}
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

// handleServiceError converts domain errors to HTTP status codes
func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		cartErr     *domain.CartValidationError
		stockErr    *domain.InsufficientStockError
		paymentErr  *domain.PaymentError
		rollbackErr *domain.RollbackFailureError
	)

	switch {
	case errors.As(err, &rollbackErr):
		log.Error("request left work for reconciliation", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "checkout could not be fully rolled back",
			Code:    "rollback_failed",
			Details: map[string]string{"order_id": rollbackErr.OrderID},
		})
	case errors.As(err, &cartErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "cart cannot be checked out",
			Code:    "invalid_cart",
			Details: cartErr.Issues,
		})
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "insufficient stock",
			Code:    "insufficient_stock",
			Details: stockErr.Items,
		})
	case errors.As(err, &paymentErr):
		respondJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error: "payment failed",
			Code:  "payment_failed",
			Details: PaymentErrorDetails{
				OrderID:   paymentErr.OrderID,
				Reason:    paymentErr.Reason,
				Temporary: paymentErr.Temporary,
			},
		})
	case errors.Is(err, checkout.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidAdjustment):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrMissingTenant):
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrTenantMismatch):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrCheckoutInProgress):
		respondError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrDuplicateInFlight),
		errors.Is(err, domain.ErrActiveReservation):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "deadline_exceeded", "request timed out")
	default:
		log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
