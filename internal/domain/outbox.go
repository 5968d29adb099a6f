package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const EventTypeOrderStatusChanged = "order.status_changed"

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// OrderStatusChanged is published for transitions the customer is told about.
type OrderStatusChanged struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Email      string          `json:"email"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total_amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewOrderStatusChanged(o *Order) OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:    o.ID.String(),
		UserID:     o.UserID,
		Email:      o.CustomerEmail,
		Status:     o.Status,
		Total:      o.TotalAmount,
		Currency:   o.Currency,
		Reason:     o.FailureReason,
		OccurredAt: o.UpdatedAt,
	}
}

// NotifiesCustomer reports whether entering the status produces an email.
func (s OrderStatus) NotifiesCustomer() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}
