package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Outcome decides whether a simulated charge succeeds, and the refusal when it does not
type Outcome interface {
	Decide() (ok bool, refusal string)
}

// RandomOutcome approves 95% of charges and spreads the rest over the known refusals
type RandomOutcome struct{}

func (RandomOutcome) Decide() (bool, string) {
	return decide(rand.Intn(101)) // 101 because Intn is exclusive of the upper bound
}

var simulatedRefusals = []string{
	RefusalInsufficientFunds,
	RefusalCardDeclined,
	RefusalExpiredCard,
	RefusalFraudSuspected,
}

func decide(roll int) (bool, string) {
	if roll < 95 {
		return true, ""
	}
	other := roll - 95
	if other == 0 || other > len(simulatedRefusals) {
		return false, RefusalUnknown
	}
	return false, simulatedRefusals[other-1]
}

// Simulator stands in for the provider in local runs. Card intents are always
// created; their result has to be posted to the webhook by hand.
type Simulator struct {
	outcome Outcome
	seq     atomic.Int64
}

func NewSimulator(outcome Outcome) *Simulator {
	if outcome == nil {
		outcome = RandomOutcome{}
	}
	return &Simulator{outcome: outcome}
}

func (s *Simulator) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.PaymentError{Reason: ReasonTimeout, Temporary: true, Err: err}
	}
	if req.AmountMinor <= 0 {
		return nil, &domain.PaymentError{Reason: ReasonRejected, Err: fmt.Errorf("amount must be positive, got %d", req.AmountMinor)}
	}
	id := fmt.Sprintf("pi_sim_%d", s.seq.Add(1))
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (s *Simulator) ChargeOffline(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.PaymentError{Reason: ReasonTimeout, Temporary: true, Err: err}
	}
	if ok, refusal := s.outcome.Decide(); !ok {
		return nil, &domain.PaymentError{Reason: refusal}
	}
	return &Charge{ID: fmt.Sprintf("TXN-%s-%d", req.Reference, s.seq.Add(1))}, nil
}
