package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined is a definitive refusal from the provider. Retrying the same
	// request will not help.
	ErrDeclined    = errors.New("payment declined by provider")
	ErrUnavailable = errors.New("payment provider unavailable")
	ErrIgnored     = errors.New("provider event does not affect payments")
)

type InitiateRequest struct {
	AttemptID     uuid.UUID
	OrderID       uuid.UUID
	CustomerEmail string
	Items         []domain.OrderItem
	Amount        decimal.Decimal
	Currency      string
	ReturnURL     string
}

type InitiateResult struct {
	PaymentReference string
	RedirectURL      string
}

type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
}

// Provider is an external payment gateway. Initiate must be idempotent on
// AttemptID so that a retried call never creates a second charge.
type Provider interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Refund(ctx context.Context, req RefundRequest) error
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnits converts an amount to the smallest currency unit providers bill in.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// returnLink adds the order id and an optional outcome to the customer return
// URL. A query already present on the URL is kept.
func returnLink(base string, orderID uuid.UUID, status string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse return url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("order_id", orderID.String())
	if status != "" {
		q.Set("status", status)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
