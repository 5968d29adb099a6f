package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe initiates payments as hosted Checkout Sessions. The session id is the
// payment reference.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe builds a provider. backends may be nil to use the default Stripe endpoints.
func NewStripe(secretKey, webhookSecret string, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	currency := strings.ToLower(req.Currency)
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(MinorUnits(item.UnitPrice, req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.MovieName),
				},
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	successURL, err := returnLink(req.ReturnURL, req.OrderID, "success")
	if err != nil {
		return nil, err
	}
	cancelURL, err := returnLink(req.ReturnURL, req.OrderID, "cancelled")
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		LineItems:         lineItems,
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID.String())
	params.AddMetadata("attempt_id", req.AttemptID.String())
	params.SetIdempotencyKey(req.AttemptID.String())

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &InitiateResult{PaymentReference: sess.ID, RedirectURL: sess.URL}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) error {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(req.PaymentReference, getParams)
	if err != nil {
		return classifyStripeError(err)
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return fmt.Errorf("checkout session %s has no payment intent: %w", sess.ID, ErrDeclined)
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(sess.PaymentIntent.ID)}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if _, err := s.api.Refunds.New(params); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps Checkout Session
// events to payment outcomes. Unrelated events yield ErrIgnored.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify stripe signature: %w", err)
	}

	var outcome domain.WebhookEventType
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		outcome = domain.WebhookPaymentSucceeded
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		outcome = domain.WebhookPaymentFailed
	default:
		return nil, ErrIgnored
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	// A completed session with a delayed payment method settles later.
	if event.Type == stripe.EventTypeCheckoutSessionCompleted && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrIgnored
	}

	currency := strings.ToUpper(string(sess.Currency))
	ev := &domain.WebhookEvent{
		ID:               event.ID,
		Type:             outcome,
		PaymentReference: sess.ID,
		Amount:           FromMinorUnits(sess.AmountTotal, currency),
		Currency:         currency,
	}
	if outcome == domain.WebhookPaymentFailed {
		ev.Reason = string(event.Type)
	}
	return ev, nil
}

func classifyStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch serr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
			return fmt.Errorf("stripe: %s: %w", serr.Msg, ErrDeclined)
		}
		if serr.HTTPStatusCode >= 500 {
			return fmt.Errorf("stripe: %s: %w", serr.Msg, ErrUnavailable)
		}
		return fmt.Errorf("stripe: %w", err)
	}
	return err
}
