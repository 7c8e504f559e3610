// Package payment talks to the external payment provider over HTTP.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"go.uber.org/zap"
)

// Refusal reasons reported by the provider for declined payments
const (
	RefusalInsufficientFunds = "insufficient_funds"
	RefusalCardDeclined      = "card_declined"
	RefusalExpiredCard       = "expired_card"
	RefusalFraudSuspected    = "fraud_suspected"
	RefusalUnknown           = "unknown"

	ReasonTimeout     = "timeout"
	ReasonUnavailable = "provider_unavailable"
	ReasonRejected    = "rejected"
)

type IntentRequest struct {
	Reference      string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	PayerEmail     string
	Metadata       map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type ChargeRequest struct {
	Reference      string
	IdempotencyKey string
	Method         domain.PaymentMethod
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
}

type Charge struct {
	ID string
}

// Client is the payment provider boundary. Every failure is a *domain.PaymentError.
type Client interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ChargeOffline(ctx context.Context, req ChargeRequest) (*Charge, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker[[]byte]
	log     *zap.Logger
}

// declineError marks a business refusal; it does not count against the breaker
type declineError struct {
	reason string
}

func (e *declineError) Error() string { return "declined: " + e.reason }

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New[[]byte](circuitbreaker.DefaultSettings("payment-provider"), log, func(err error) bool {
			var decline *declineError
			return err == nil || errors.As(err, &decline)
		}),
		log: log,
	}
}

type intentBody struct {
	Reference    string            `json:"reference"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountMinor <= 0 {
		return nil, &domain.PaymentError{Reason: ReasonRejected, Err: fmt.Errorf("amount must be positive, got %d", req.AmountMinor)}
	}
	raw, err := c.post(ctx, "/v1/payment_intents", req.IdempotencyKey, intentBody{
		Reference:    req.Reference,
		Amount:       req.AmountMinor,
		Currency:     strings.ToLower(req.Currency),
		ReceiptEmail: req.PayerEmail,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var resp intentResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" || resp.ClientSecret == "" {
		return nil, &domain.PaymentError{Reason: ReasonUnavailable, Temporary: true, Err: fmt.Errorf("malformed intent response")}
	}
	return &Intent{ID: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

type chargeBody struct {
	Reference string            `json:"reference"`
	Method    string            `json:"method"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (c *HTTPClient) ChargeOffline(ctx context.Context, req ChargeRequest) (*Charge, error) {
	raw, err := c.post(ctx, "/v1/charges", req.IdempotencyKey, chargeBody{
		Reference: req.Reference,
		Method:    strings.ToLower(string(req.Method)),
		Amount:    req.AmountMinor,
		Currency:  strings.ToLower(req.Currency),
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.PaymentError{Reason: ReasonUnavailable, Temporary: true, Err: fmt.Errorf("malformed charge response: %w", err)}
	}
	if resp.Status != "succeeded" {
		reason := resp.FailureReason
		if reason == "" {
			reason = RefusalUnknown
		}
		return nil, &domain.PaymentError{Reason: reason}
	}
	return &Charge{ID: resp.ID}, nil
}

type providerError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post sends body through the circuit breaker and maps failures to *domain.PaymentError
func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if idempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode == http.StatusPaymentRequired:
			var pe providerError
			_ = json.Unmarshal(data, &pe)
			reason := pe.Error.Code
			if reason == "" {
				reason = RefusalUnknown
			}
			return nil, &declineError{reason: reason}
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
		default:
			return nil, &declineError{reason: ReasonRejected + ": " + strings.TrimSpace(string(data))}
		}
	})
	if err == nil {
		return raw, nil
	}

	var decline *declineError
	switch {
	case errors.As(err, &decline):
		return nil, &domain.PaymentError{Reason: decline.reason}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return nil, &domain.PaymentError{Reason: ReasonTimeout, Temporary: true, Err: err}
	default:
		c.log.Warn("payment provider call failed", zap.String("path", path), zap.Error(err))
		return nil, &domain.PaymentError{Reason: ReasonUnavailable, Temporary: true, Err: err}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
