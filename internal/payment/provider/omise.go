package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

const omiseChargeComplete = "charge.complete"

// omiseAPI is the slice of the Omise API the provider calls.
type omiseAPI interface {
	CreateSource(op *operations.CreateSource) (*omise.Source, error)
	CreateCharge(op *operations.CreateCharge) (*omise.Charge, error)
	CreateRefund(op *operations.CreateRefund) (*omise.Refund, error)
	RetrieveEvent(op *operations.RetrieveEvent) (*omise.Event, error)
}

type omiseClient struct {
	c *omise.Client
}

func (oc omiseClient) CreateSource(op *operations.CreateSource) (*omise.Source, error) {
	src := &omise.Source{}
	return src, oc.c.Do(src, op)
}

func (oc omiseClient) CreateCharge(op *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	return ch, oc.c.Do(ch, op)
}

func (oc omiseClient) CreateRefund(op *operations.CreateRefund) (*omise.Refund, error) {
	r := &omise.Refund{}
	return r, oc.c.Do(r, op)
}

func (oc omiseClient) RetrieveEvent(op *operations.RetrieveEvent) (*omise.Event, error) {
	ev := &omise.Event{}
	return ev, oc.c.Do(ev, op)
}

// Omise charges through an offsite source (PromptPay by default). The charge
// id is the payment reference and the authorize URI is the redirect.
type Omise struct {
	api        omiseAPI
	sourceType string
}

func NewOmise(publicKey, secretKey, sourceType string) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.SetDebug(false)
	return newOmise(omiseClient{c: c}, sourceType), nil
}

func newOmise(api omiseAPI, sourceType string) *Omise {
	if sourceType == "" {
		sourceType = "promptpay"
	}
	return &Omise{api: api, sourceType: sourceType}
}

func (o *Omise) Name() string { return "omise" }

// call runs a blocking omise request and gives up when ctx is done.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, classifyOmiseError(r.err)
	}
}

func (o *Omise) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	amount := MinorUnits(req.Amount, req.Currency)
	currency := strings.ToLower(req.Currency)
	returnURI, err := returnLink(req.ReturnURL, req.OrderID, "")
	if err != nil {
		return nil, err
	}

	src, err := call(ctx, func() (*omise.Source, error) {
		return o.api.CreateSource(&operations.CreateSource{
			Type:     o.sourceType,
			Amount:   amount,
			Currency: currency,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create omise source: %w", err)
	}

	ch, err := call(ctx, func() (*omise.Charge, error) {
		return o.api.CreateCharge(&operations.CreateCharge{
			Amount:    amount,
			Currency:  currency,
			Source:    src.ID,
			ReturnURI: returnURI,
			Metadata: map[string]interface{}{
				"order_id":   req.OrderID.String(),
				"attempt_id": req.AttemptID.String(),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create omise charge: %w", err)
	}
	if string(ch.Status) == "failed" {
		return nil, fmt.Errorf("omise charge %s: %s: %w", ch.ID, omiseFailure(ch), ErrDeclined)
	}

	return &InitiateResult{PaymentReference: ch.ID, RedirectURL: ch.AuthorizeURI}, nil
}

func (o *Omise) Refund(ctx context.Context, req RefundRequest) error {
	_, err := call(ctx, func() (*omise.Refund, error) {
		return o.api.CreateRefund(&operations.CreateRefund{
			ChargeID: req.PaymentReference,
			Amount:   MinorUnits(req.Amount, req.Currency),
		})
	})
	if err != nil {
		return fmt.Errorf("refund omise charge %s: %w", req.PaymentReference, err)
	}
	return nil
}

// VerifyEvent fetches the event back from Omise, so a forged webhook body
// carries no weight. Events other than charge.complete yield ErrIgnored.
func (o *Omise) VerifyEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	ev, err := call(ctx, func() (*omise.Event, error) {
		return o.api.RetrieveEvent(&operations.RetrieveEvent{EventID: eventID})
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve omise event %s: %w", eventID, err)
	}
	if ev.Key != omiseChargeComplete {
		return nil, ErrIgnored
	}

	// ev.Data is decoded as a generic map.
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal omise event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("decode omise charge: %w", err)
	}

	currency := strings.ToUpper(ch.Currency)
	out := &domain.WebhookEvent{
		ID:               ev.ID,
		PaymentReference: ch.ID,
		Amount:           FromMinorUnits(ch.Amount, currency),
		Currency:         currency,
	}
	switch string(ch.Status) {
	case "successful":
		out.Type = domain.WebhookPaymentSucceeded
	case "failed", "expired", "reversed":
		out.Type = domain.WebhookPaymentFailed
		out.Reason = omiseFailure(&ch)
	default:
		return nil, ErrIgnored
	}
	return out, nil
}

func omiseFailure(ch *omise.Charge) string {
	if ch.FailureMessage != nil && *ch.FailureMessage != "" {
		return *ch.FailureMessage
	}
	if ch.FailureCode != nil && *ch.FailureCode != "" {
		return *ch.FailureCode
	}
	return string(ch.Status)
}

func classifyOmiseError(err error) error {
	if err == nil {
		return nil
	}
	var oerr *omise.Error
	if errors.As(err, &oerr) {
		if oerr.StatusCode >= 500 {
			return fmt.Errorf("omise %s: %w", oerr.Code, ErrUnavailable)
		}
		return fmt.Errorf("omise %s: %s: %w", oerr.Code, oerr.Message, ErrDeclined)
	}
	return err
}
