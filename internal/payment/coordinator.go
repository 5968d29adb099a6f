package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/ledger"
	"github.com/fjod/go_cinema/internal/logger"
	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/fjod/go_cinema/internal/order"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidEvent = errors.New("invalid webhook event")

	errConflictingOutcome = errors.New("conflicting payment outcome")
	errAmountMismatch     = errors.New("event amount does not match attempt")
)

// WebhookResult says what HandleWebhook did with an event.
type WebhookResult string

const (
	WebhookApplied   WebhookResult = "applied"
	WebhookDuplicate WebhookResult = "duplicate"
	// WebhookRejected means the event was recorded as processed but its effect
	// was not applied. The reason is kept in the processed-event record.
	WebhookRejected WebhookResult = "rejected"
	WebhookUnknown  WebhookResult = "unknown"
)

type Config struct {
	Timeout   time.Duration
	ReturnURL string
}

// Coordinator drives orders through a payment provider and reconciles the
// provider's asynchronous events into order and attempt state.
type Coordinator struct {
	ledger   ledger.Ledger
	orders   *order.Machine
	provider provider.Provider
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewCoordinator(l ledger.Ledger, orders *order.Machine, p provider.Provider, cfg Config, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Coordinator{
		ledger:   l,
		orders:   orders,
		provider: p,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// InitiatePayment opens a pending attempt for the order and asks the provider
// for a payment page. The provider call runs outside the order lock and is
// bounded by the configured timeout; on timeout the attempt stays pending.
func (c *Coordinator) InitiatePayment(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.PaymentInitiation, error) {
	var (
		attempt *domain.PaymentAttempt
		req     provider.InitiateRequest
	)
	err := c.ledger.WithOrderLock(ctx, orderID, func(tx ledger.OrderTx) error {
		o := tx.Order()
		if !actor.Admin && actor.UserID != o.UserID {
			return domain.ErrForbidden
		}
		if !o.IsPayable() {
			return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, domain.ErrOrderNotPayable)
		}
		attempts, err := tx.Attempts(ctx)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if a.Status == domain.AttemptStatusPending {
				return fmt.Errorf("order %s has pending attempt %s: %w", o.ID, a.ID, domain.ErrOrderNotPayable)
			}
		}

		attempt = domain.NewPaymentAttempt(o, c.provider.Name())
		if err := tx.InsertAttempt(ctx, attempt); err != nil {
			return err
		}
		if err := c.orders.AwaitPayment(ctx, tx); err != nil {
			return err
		}
		req = provider.InitiateRequest{
			AttemptID:     attempt.ID,
			OrderID:       o.ID,
			CustomerEmail: o.CustomerEmail,
			Items:         append([]domain.OrderItem(nil), o.Items...),
			Amount:        o.TotalAmount,
			Currency:      o.Currency,
			ReturnURL:     c.cfg.ReturnURL,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithTrace(ctx, c.log).With(
		zap.String("order_id", orderID.String()),
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("provider", c.provider.Name()))

	pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	res, err := c.provider.Initiate(pctx, req)
	cancel()

	switch {
	case err == nil:
		c.metrics.ProviderCall("initiate", "ok")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.metrics.ProviderCall("initiate", "timeout")
		log.Warn("payment provider did not answer in time, attempt left pending", zap.Error(err))
		return nil, fmt.Errorf("initiate attempt %s: %w", attempt.ID, domain.ErrProviderTimeout)
	default:
		c.metrics.ProviderCall("initiate", "error")
		log.Error("payment initiation failed", zap.Error(err))
		if ferr := c.failAttempt(ctx, orderID, attempt.ID, err.Error()); ferr != nil {
			log.Error("failed to record failed attempt", zap.Error(ferr))
		}
		return nil, fmt.Errorf("initiate attempt %s: %w", attempt.ID, err)
	}

	err = c.ledger.WithOrderLock(ctx, orderID, func(tx ledger.OrderTx) error {
		a, err := findAttempt(ctx, tx, attempt.ID)
		if err != nil {
			return err
		}
		a.ProviderReference = res.PaymentReference
		a.RedirectURL = res.RedirectURL
		a.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateAttempt(ctx, a); err != nil {
			return err
		}
		if a.Status != domain.AttemptStatusPending {
			// Cancelled while the provider was being called. The reference is
			// kept so a late provider event can still be matched.
			return errAttemptClosed
		}
		return nil
	})
	if errors.Is(err, errAttemptClosed) {
		return nil, fmt.Errorf("order %s changed during payment initiation: %w", orderID, domain.ErrOrderNotPayable)
	}
	if err != nil {
		return nil, err
	}

	log.Info("payment initiated", zap.String("payment_reference", res.PaymentReference))
	return &domain.PaymentInitiation{
		AttemptID:        attempt.ID,
		PaymentReference: res.PaymentReference,
		RedirectURL:      res.RedirectURL,
	}, nil
}

var errAttemptClosed = errors.New("attempt closed")

// failAttempt closes an attempt the provider refused to open.
func (c *Coordinator) failAttempt(ctx context.Context, orderID, attemptID uuid.UUID, reason string) error {
	ctx = context.WithoutCancel(ctx)
	return c.ledger.WithOrderLock(ctx, orderID, func(tx ledger.OrderTx) error {
		a, err := findAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.Status != domain.AttemptStatusPending {
			return nil
		}
		a.Fail(reason)
		if err := tx.UpdateAttempt(ctx, a); err != nil {
			return err
		}
		if tx.Order().Status != domain.OrderStatusAwaitingPayment {
			return nil
		}
		return c.orders.MarkFailed(ctx, tx, reason)
	})
}

// HandleWebhook applies a verified provider event at most once per event id.
// Events whose effect cannot be applied are still recorded as processed and
// reported as WebhookRejected; only unknown references and storage errors are
// returned as errors.
func (c *Coordinator) HandleWebhook(ctx context.Context, ev domain.WebhookEvent) (WebhookResult, error) {
	if ev.ID == "" || ev.PaymentReference == "" || !ev.Type.Valid() {
		return "", ErrInvalidEvent
	}
	log := logger.WithTrace(ctx, c.log).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("payment_reference", ev.PaymentReference))

	found, err := c.ledger.FindAttemptByReference(ctx, ev.PaymentReference)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPaymentAttempt) {
			c.metrics.Webhook(string(WebhookUnknown))
			log.Error("webhook references no payment attempt, manual reconciliation required")
		}
		return "", err
	}
	log = log.With(zap.String("order_id", found.OrderID.String()), zap.String("attempt_id", found.ID.String()))

	var (
		result   WebhookResult
		applyErr error
	)
	err = c.ledger.WithOrderLock(ctx, found.OrderID, func(tx ledger.OrderTx) error {
		processed, err := tx.WebhookProcessed(ctx, ev.ID)
		if err != nil {
			return err
		}
		if processed {
			result = WebhookDuplicate
			return nil
		}

		a, err := findAttempt(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		applyErr = c.apply(ctx, tx, a, ev)
		if applyErr != nil && !isRejection(applyErr) {
			return applyErr
		}

		rec := domain.ProcessedWebhook{
			EventID:     ev.ID,
			AttemptID:   a.ID,
			Type:        ev.Type,
			ProcessedAt: time.Now().UTC(),
		}
		result = WebhookApplied
		if applyErr != nil {
			rec.ProcessingError = applyErr.Error()
			result = WebhookRejected
		}
		return tx.RecordWebhook(ctx, rec)
	})
	if err != nil {
		c.metrics.Webhook("error")
		log.Error("webhook processing failed", zap.Error(err))
		return "", err
	}

	c.metrics.Webhook(string(result))
	switch result {
	case WebhookDuplicate:
		log.Info("webhook already processed")
	case WebhookRejected:
		log.Warn("webhook recorded without effect", zap.Error(applyErr))
	default:
		log.Info("webhook applied")
	}
	return result, nil
}

func (c *Coordinator) apply(ctx context.Context, tx ledger.OrderTx, a *domain.PaymentAttempt, ev domain.WebhookEvent) error {
	if !ev.Amount.IsZero() && (!ev.Amount.Equal(a.Amount) || (ev.Currency != "" && ev.Currency != a.Currency)) {
		return fmt.Errorf("%w: got %s %s, want %s %s", errAmountMismatch,
			ev.Amount.StringFixed(2), ev.Currency, a.Amount.StringFixed(2), a.Currency)
	}

	want := domain.AttemptStatusSucceeded
	if ev.Type == domain.WebhookPaymentFailed {
		want = domain.AttemptStatusFailed
	}
	if a.Status.IsTerminal() {
		if a.Status != want {
			// The first terminal outcome stands.
			return fmt.Errorf("%w: attempt is %s, event says %s", errConflictingOutcome, a.Status, ev.Type)
		}
		if want == domain.AttemptStatusSucceeded {
			return c.orders.MarkPaid(ctx, tx, a)
		}
		return nil
	}

	if want == domain.AttemptStatusSucceeded {
		if err := c.orders.MarkPaid(ctx, tx, a); err != nil {
			return err
		}
		a.Succeed()
		return tx.UpdateAttempt(ctx, a)
	}

	reason := ev.Reason
	if reason == "" {
		reason = "payment failed"
	}
	if tx.Order().Status == domain.OrderStatusAwaitingPayment {
		if err := c.orders.MarkFailed(ctx, tx, reason); err != nil {
			return err
		}
	}
	a.Fail(reason)
	return tx.UpdateAttempt(ctx, a)
}

// isRejection reports errors that are a property of the event rather than of
// the store. Such events are recorded and never redelivered.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, errConflictingOutcome) ||
		errors.Is(err, errAmountMismatch)
}

// Refund returns the money of a paid order through the provider and moves the
// order to REFUNDED. The provider call holds the order lock so that two refund
// requests cannot both reach the provider.
func (c *Coordinator) Refund(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.Order, error) {
	var refunded *domain.Order
	err := c.ledger.WithOrderLock(ctx, orderID, func(tx ledger.OrderTx) error {
		o := tx.Order()
		if !actor.Admin && actor.UserID != o.UserID {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionTo(o.Status, domain.OrderStatusRefunded) {
			return &domain.TransitionError{From: o.Status, To: domain.OrderStatusRefunded}
		}
		attempts, err := tx.Attempts(ctx)
		if err != nil {
			return err
		}
		var paid *domain.PaymentAttempt
		for _, a := range attempts {
			if a.Status == domain.AttemptStatusSucceeded {
				paid = a
				break
			}
		}
		if paid == nil {
			return fmt.Errorf("order %s is paid but has no succeeded attempt", o.ID)
		}

		pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		err = c.provider.Refund(pctx, provider.RefundRequest{
			PaymentReference: paid.ProviderReference,
			Amount:           paid.Amount,
			Currency:         paid.Currency,
			IdempotencyKey:   "refund-" + paid.ID.String(),
		})
		if err != nil {
			c.metrics.ProviderCall("refund", "error")
			return fmt.Errorf("refund attempt %s: %w", paid.ID, err)
		}
		c.metrics.ProviderCall("refund", "ok")

		if err := c.orders.Refund(ctx, tx); err != nil {
			return err
		}
		refunded = tx.Order()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// History lists every payment attempt of a user, newest first.
func (c *Coordinator) History(ctx context.Context, userID string) ([]*domain.PaymentAttempt, error) {
	return c.ledger.ListAttemptsByUser(ctx, userID)
}

// SearchAttempts lists payment attempts of all users for administrators.
func (c *Coordinator) SearchAttempts(ctx context.Context, actor order.Actor, filter ledger.AttemptFilter) ([]*domain.PaymentAttempt, int, error) {
	if !actor.Admin {
		return nil, 0, domain.ErrForbidden
	}
	return c.ledger.SearchAttempts(ctx, filter)
}

func findAttempt(ctx context.Context, tx ledger.OrderTx, id uuid.UUID) (*domain.PaymentAttempt, error) {
	attempts, err := tx.Attempts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range attempts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("attempt %s: %w", id, domain.ErrUnknownPaymentAttempt)
}
