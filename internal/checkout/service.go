package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/logger"
	"github.com/fjod/go_cinema/internal/order"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Carts interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type Pricer interface {
	PriceCart(ctx context.Context, cart *domain.Cart) (*domain.Quote, error)
}

type Orders interface {
	CreateOrder(ctx context.Context, customer domain.Customer, quote *domain.Quote) (*domain.Order, error)
}

type OpenOrders interface {
	HasOpenOrder(ctx context.Context, userID string) (bool, error)
}

type Payments interface {
	InitiatePayment(ctx context.Context, orderID uuid.UUID, actor order.Actor) (*domain.PaymentInitiation, error)
}

type Result struct {
	Order   *domain.Order             `json:"order"`
	Payment *domain.PaymentInitiation `json:"payment"`
}

// PaymentError reports an order that was created but whose payment could not
// be started. The order stays payable through the orders API.
type PaymentError struct {
	Order *domain.Order
	Err   error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("order %s created but payment was not started: %v", e.Order.ID, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

type Service struct {
	carts    Carts
	pricer   Pricer
	orders   Orders
	open     OpenOrders
	payments Payments
	log      *zap.Logger
}

func NewService(carts Carts, pricer Pricer, orders Orders, open OpenOrders, payments Payments, log *zap.Logger) *Service {
	return &Service{
		carts:    carts,
		pricer:   pricer,
		orders:   orders,
		open:     open,
		payments: payments,
		log:      log,
	}
}

// Checkout turns the customer's cart into an order priced at this moment and
// starts its payment. The cart is cleared as soon as the order exists.
func (s *Service) Checkout(ctx context.Context, customer domain.Customer) (*Result, error) {
	cart, err := s.carts.GetCart(ctx, customer.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	open, err := s.open.HasOpenOrder(ctx, customer.UserID)
	if err != nil {
		return nil, fmt.Errorf("check open orders: %w", err)
	}
	if open {
		return nil, domain.ErrUnpaidOrderExists
	}

	quote, err := s.pricer.PriceCart(ctx, cart)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.CreateOrder(ctx, customer, quote)
	if err != nil {
		return nil, err
	}

	log := logger.WithTrace(ctx, s.log).With(zap.String("order_id", o.ID.String()), zap.String("user_id", customer.UserID))
	if err := s.carts.ClearCart(ctx, customer.UserID); err != nil {
		log.Warn("failed to clear cart after checkout", zap.Error(err))
	}

	payment, err := s.payments.InitiatePayment(ctx, o.ID, order.Actor{UserID: customer.UserID})
	if err != nil {
		log.Warn("checkout payment not started", zap.Error(err))
		return nil, &PaymentError{Order: o, Err: err}
	}
	o.Status = domain.OrderStatusAwaitingPayment

	log.Info("checkout completed", zap.String("attempt_id", payment.AttemptID.String()))
	return &Result{Order: o, Payment: payment}, nil
}
