package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRefunded        OrderStatus = "REFUNDED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusAwaitingPayment, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusFailed:          {OrderStatusAwaitingPayment},
	OrderStatusPaid:            {OrderStatusRefunded},
}

// CanTransitionTo reports whether the lifecycle allows moving from one status to another.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderStatusCreated, OrderStatusAwaitingPayment, OrderStatusPaid,
		OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return st, true
	}
	return "", false
}

// IsOpen is true while the customer still owes payment for the order.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusCreated || s == OrderStatusAwaitingPayment
}

func (s OrderStatus) String() string {
	return string(s)
}

type OrderItem struct {
	MovieID   int64           `json:"movie_id"`
	MovieName string          `json:"movie_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer identifies who places an order. Email is used for notifications only.
type Customer struct {
	UserID string
	Email  string
}

type Order struct {
	ID            uuid.UUID
	UserID        string
	CustomerEmail string
	Status        OrderStatus
	Items         []OrderItem
	TotalAmount   decimal.Decimal
	Currency      string
	PaidAttemptID *uuid.UUID
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder freezes the quote lines into an order in CREATED status.
func NewOrder(customer Customer, quote *Quote) (*Order, error) {
	if quote == nil || len(quote.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	items := make([]OrderItem, len(quote.Lines))
	total := decimal.Zero
	for i, line := range quote.Lines {
		items[i] = OrderItem{
			MovieID:   line.MovieID,
			MovieName: line.MovieName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		total = total.Add(items[i].Subtotal())
	}
	now := time.Now().UTC()
	return &Order{
		ID:            uuid.New(),
		UserID:        customer.UserID,
		CustomerEmail: customer.Email,
		Status:        OrderStatusCreated,
		Items:         items,
		TotalAmount:   total,
		Currency:      quote.Currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) transition(to OrderStatus) error {
	if !CanTransitionTo(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// IsPayable reports whether a new payment attempt may be started for the order.
// FAILED orders are payable so that the customer can retry.
func (o *Order) IsPayable() bool {
	switch o.Status {
	case OrderStatusCreated, OrderStatusAwaitingPayment, OrderStatusFailed:
		return true
	}
	return false
}

func (o *Order) AwaitPayment() error {
	if o.Status == OrderStatusAwaitingPayment {
		return nil
	}
	if err := o.transition(OrderStatusAwaitingPayment); err != nil {
		return err
	}
	o.FailureReason = ""
	return nil
}

// MarkPaid returns false without error when the order is already paid by the same attempt.
func (o *Order) MarkPaid(attemptID uuid.UUID) (bool, error) {
	if o.Status == OrderStatusPaid && o.PaidAttemptID != nil && *o.PaidAttemptID == attemptID {
		return false, nil
	}
	if err := o.transition(OrderStatusPaid); err != nil {
		return false, err
	}
	id := attemptID
	o.PaidAttemptID = &id
	return true, nil
}

func (o *Order) MarkFailed(reason string) error {
	if err := o.transition(OrderStatusFailed); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

func (o *Order) Cancel() error {
	return o.transition(OrderStatusCancelled)
}

func (o *Order) Refund() error {
	return o.transition(OrderStatusRefunded)
}

func (o *Order) HasMovie(movieID int64) bool {
	for _, item := range o.Items {
		if item.MovieID == movieID {
			return true
		}
	}
	return false
}
