package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "PENDING"
	AttemptStatusSucceeded AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
)

func ParseAttemptStatus(s string) (AttemptStatus, bool) {
	switch st := AttemptStatus(s); st {
	case AttemptStatusPending, AttemptStatusSucceeded, AttemptStatusFailed:
		return st, true
	}
	return "", false
}

func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSucceeded || s == AttemptStatusFailed
}

// PaymentAttempt is one try at collecting payment for an order through a provider.
// ProviderReference is empty until the provider has acknowledged the attempt.
type PaymentAttempt struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           uuid.UUID       `json:"order_id"`
	UserID            string          `json:"user_id"`
	Provider          string          `json:"provider"`
	ProviderReference string          `json:"payment_reference,omitempty"`
	RedirectURL       string          `json:"redirect_url,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            AttemptStatus   `json:"status"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func NewPaymentAttempt(order *Order, provider string) *PaymentAttempt {
	now := time.Now().UTC()
	return &PaymentAttempt{
		ID:        uuid.New(),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Provider:  provider,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		Status:    AttemptStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *PaymentAttempt) Succeed() {
	a.Status = AttemptStatusSucceeded
	a.FailureReason = ""
	a.UpdatedAt = time.Now().UTC()
}

func (a *PaymentAttempt) Fail(reason string) {
	a.Status = AttemptStatusFailed
	a.FailureReason = reason
	a.UpdatedAt = time.Now().UTC()
}

// PaymentInitiation is what the customer needs to complete payment with the provider.
type PaymentInitiation struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	PaymentReference string    `json:"payment_reference"`
	RedirectURL      string    `json:"redirect_url"`
}
