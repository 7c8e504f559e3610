package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// PaymentEventHandler is the part of the checkout service that consumes provider events
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, ev payment.Event) error
}

type WebhookHandler struct {
	svc     PaymentEventHandler
	secret  string
	timeout time.Duration
	log     *zap.Logger
}

func NewWebhookHandler(svc PaymentEventHandler, secret string, timeout time.Duration, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		svc:     svc,
		secret:  secret,
		timeout: timeout,
		log:     log,
	}
}

// POST /api/v1/payments/webhook
// Any non 2xx answer makes the provider redeliver the event.
func (h *WebhookHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	log := logger.FromContext(ctx, h.log)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	ev, err := payment.ParseWebhook(body, r.Header.Get(payment.SignatureHeader), h.secret)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		log.Warn("rejected webhook with bad signature")
		respondError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
		return
	case errors.Is(err, payment.ErrUnknownEvent):
		log.Debug("ignoring webhook event", zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.svc.HandlePaymentEvent(ctx, *ev); err != nil {
		handleServiceError(w, log.With(zap.String("event_id", ev.ID)), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
