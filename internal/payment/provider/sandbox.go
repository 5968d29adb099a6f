package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutcomeSource decides how a sandbox payment ends.
type OutcomeSource interface {
	Outcome() (succeeded bool, reason string)
}

type RandomOutcome struct{}

func (RandomOutcome) Outcome() (bool, string) {
	return outcomeFor(rand.Intn(101)) // 101 because Intn is exclusive of the upper bound
}

var refusalReasons = []string{
	"unknown reason",
	"insufficient funds",
	"card expired",
	"card declined",
	"suspected fraud",
	"limit exceeded",
}

func outcomeFor(n int) (bool, string) {
	if n < 95 {
		return true, ""
	}
	other := n - 95
	if other == 0 || other >= len(refusalReasons) {
		return false, refusalReasons[0]
	}
	return false, refusalReasons[other]
}

// FixedOutcome always ends the same way.
type FixedOutcome struct {
	Succeed bool
	Reason  string
}

func (f FixedOutcome) Outcome() (bool, string) {
	return f.Succeed, f.Reason
}

type sandboxPayment struct {
	amount   decimal.Decimal
	currency string
	refunded bool
}

// Sandbox is an in-process provider for local runs. Visiting the redirect URL
// settles the payment and produces the webhook a real provider would send.
type Sandbox struct {
	baseURL string
	outcome OutcomeSource

	mu       sync.Mutex
	payments map[string]*sandboxPayment
}

func NewSandbox(baseURL string, outcome OutcomeSource) *Sandbox {
	if outcome == nil {
		outcome = RandomOutcome{}
	}
	return &Sandbox{
		baseURL:  strings.TrimRight(baseURL, "/"),
		outcome:  outcome,
		payments: make(map[string]*sandboxPayment),
	}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := "sbx_" + req.AttemptID.String()

	s.mu.Lock()
	if _, ok := s.payments[ref]; !ok {
		s.payments[ref] = &sandboxPayment{amount: req.Amount, currency: req.Currency}
	}
	s.mu.Unlock()

	return &InitiateResult{
		PaymentReference: ref,
		RedirectURL:      s.baseURL + "/" + ref,
	}, nil
}

// Refund is always successful for a known, settled payment.
func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[req.PaymentReference]
	if !ok {
		return fmt.Errorf("sandbox payment %q: %w", req.PaymentReference, ErrDeclined)
	}
	if p.refunded {
		return nil
	}
	p.refunded = true
	return nil
}

// Complete settles a sandbox payment and returns the resulting provider event.
func (s *Sandbox) Complete(reference string) (domain.WebhookEvent, error) {
	s.mu.Lock()
	p, ok := s.payments[reference]
	s.mu.Unlock()
	if !ok {
		return domain.WebhookEvent{}, fmt.Errorf("sandbox payment %q: %w", reference, domain.ErrUnknownPaymentAttempt)
	}

	ev := domain.WebhookEvent{
		ID:               "evt_" + uuid.NewString(),
		PaymentReference: reference,
		Amount:           p.amount,
		Currency:         p.currency,
	}
	if succeeded, reason := s.outcome.Outcome(); succeeded {
		ev.Type = domain.WebhookPaymentSucceeded
	} else {
		ev.Type = domain.WebhookPaymentFailed
		ev.Reason = reason
	}
	return ev, nil
}
