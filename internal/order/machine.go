package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/ledger"
	"github.com/fjod/go_cinema/internal/logger"
	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) canAccess(o *domain.Order) bool {
	return a.Admin || a.UserID == o.UserID
}

// Machine owns order lifecycle transitions. The tx-scoped methods are meant to be
// called from inside ledger.WithOrderLock by other components.
type Machine struct {
	ledger  ledger.Ledger
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewMachine(l ledger.Ledger, log *zap.Logger, m *metrics.Metrics) *Machine {
	return &Machine{ledger: l, log: log, metrics: m}
}

func (m *Machine) CreateOrder(ctx context.Context, customer domain.Customer, quote *domain.Quote) (*domain.Order, error) {
	o, err := domain.NewOrder(customer, quote)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	m.metrics.OrderTransition(string(o.Status))
	logger.WithTrace(ctx, m.log).Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("user_id", o.UserID),
		zap.String("total", o.TotalAmount.StringFixed(2)),
		zap.Int("items", len(o.Items)))
	return o, nil
}

func (m *Machine) AwaitPayment(ctx context.Context, tx ledger.OrderTx) error {
	o := tx.Order()
	if o.Status == domain.OrderStatusAwaitingPayment {
		return nil
	}
	from := o.Status
	if err := o.AwaitPayment(); err != nil {
		return err
	}
	return m.save(ctx, tx, from)
}

// MarkPaid is a no-op when the order is already paid by the same attempt.
func (m *Machine) MarkPaid(ctx context.Context, tx ledger.OrderTx, attempt *domain.PaymentAttempt) error {
	o := tx.Order()
	from := o.Status
	changed, err := o.MarkPaid(attempt.ID)
	if err != nil || !changed {
		return err
	}
	return m.save(ctx, tx, from)
}

func (m *Machine) MarkFailed(ctx context.Context, tx ledger.OrderTx, reason string) error {
	o := tx.Order()
	from := o.Status
	if err := o.MarkFailed(reason); err != nil {
		return err
	}
	return m.save(ctx, tx, from)
}

func (m *Machine) Cancel(ctx context.Context, tx ledger.OrderTx) error {
	o := tx.Order()
	from := o.Status
	if err := o.Cancel(); err != nil {
		return err
	}
	attempts, err := tx.Attempts(ctx)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if a.Status == domain.AttemptStatusPending {
			a.Fail("order cancelled")
			if err := tx.UpdateAttempt(ctx, a); err != nil {
				return err
			}
		}
	}
	return m.save(ctx, tx, from)
}

// Refund moves a paid order to REFUNDED. Payment attempts are kept as history.
func (m *Machine) Refund(ctx context.Context, tx ledger.OrderTx) error {
	o := tx.Order()
	from := o.Status
	if err := o.Refund(); err != nil {
		return err
	}
	return m.save(ctx, tx, from)
}

// CancelOrder cancels an order on behalf of its owner or an admin.
func (m *Machine) CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*domain.Order, error) {
	var cancelled *domain.Order
	err := m.ledger.WithOrderLock(ctx, orderID, func(tx ledger.OrderTx) error {
		if !actor.canAccess(tx.Order()) {
			return domain.ErrForbidden
		}
		if err := m.Cancel(ctx, tx); err != nil {
			return err
		}
		cancelled = tx.Order()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (m *Machine) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*domain.Order, []*domain.PaymentAttempt, error) {
	o, err := m.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.canAccess(o) {
		return nil, nil, domain.ErrForbidden
	}
	attempts, err := m.ledger.ListAttempts(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, attempts, nil
}

// ListOrders returns a page of orders. Non-admin callers only ever see their own.
func (m *Machine) ListOrders(ctx context.Context, actor Actor, filter ledger.OrderFilter) ([]*domain.Order, int, error) {
	if !actor.Admin {
		filter.UserID = actor.UserID
	}
	return m.ledger.ListOrders(ctx, filter)
}

func (m *Machine) save(ctx context.Context, tx ledger.OrderTx, from domain.OrderStatus) error {
	o := tx.Order()
	if err := tx.SaveOrder(ctx); err != nil {
		return err
	}
	if o.Status.NotifiesCustomer() {
		payload, err := json.Marshal(domain.NewOrderStatusChanged(o))
		if err != nil {
			return fmt.Errorf("marshal status change: %w", err)
		}
		if err := tx.AppendOutbox(ctx, o.ID.String(), domain.EventTypeOrderStatusChanged, payload); err != nil {
			return err
		}
	}
	m.metrics.OrderTransition(string(o.Status))
	logger.WithTrace(ctx, m.log).Info("order status changed",
		zap.String("order_id", o.ID.String()),
		zap.String("from", string(from)),
		zap.String("status", string(o.Status)))
	return nil
}
