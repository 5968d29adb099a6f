package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WebhookEventType string

const (
	WebhookPaymentSucceeded WebhookEventType = "payment_succeeded"
	WebhookPaymentFailed    WebhookEventType = "payment_failed"
)

func (t WebhookEventType) Valid() bool {
	return t == WebhookPaymentSucceeded || t == WebhookPaymentFailed
}

// WebhookEvent is a verified provider notification. ID is assigned by the provider
// and is the deduplication key.
type WebhookEvent struct {
	ID               string           `json:"id"`
	Type             WebhookEventType `json:"type"`
	PaymentReference string           `json:"payment_reference"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Reason           string           `json:"reason,omitempty"`
}

// ProcessedWebhook is the durable record that an event id has been handled.
type ProcessedWebhook struct {
	EventID         string
	AttemptID       uuid.UUID
	Type            WebhookEventType
	ProcessingError string
	ProcessedAt     time.Time
}
