package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const SignatureHeader = "X-Payment-Signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownEvent     = errors.New("unknown webhook event type")
)

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// Event is a provider notification about a payment intent
type Event struct {
	ID            string
	Type          EventType
	PaymentID     string
	TenantID      string
	OrderID       string
	FailureReason string
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Metadata         map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Code string `json:"code"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies the signature and decodes the event
func ParseWebhook(body []byte, signature, secret string) (*Event, error) {
	if secret == "" || !hmac.Equal([]byte(Sign(body, secret)), []byte(signature)) {
		return nil, ErrInvalidSignature
	}
	return DecodeEvent(body)
}

// DecodeEvent decodes a provider event received over a trusted channel
func DecodeEvent(body []byte) (*Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}

	ev := &Event{
		ID:        p.ID,
		Type:      EventType(p.Type),
		PaymentID: p.Data.Object.ID,
		TenantID:  p.Data.Object.Metadata["tenant_id"],
		OrderID:   p.Data.Object.Metadata["order_id"],
	}
	if p.Data.Object.LastPaymentError != nil {
		ev.FailureReason = p.Data.Object.LastPaymentError.Code
	}

	switch ev.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, p.Type)
	}
	if ev.PaymentID == "" || ev.TenantID == "" {
		return nil, fmt.Errorf("webhook %s is missing payment or tenant id", ev.ID)
	}
	return ev, nil
}
