package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuoteLine struct {
	MovieID   int64           `json:"movie_id"`
	MovieName string          `json:"movie_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Quote is a cart priced against the catalog at a single point in time.
type Quote struct {
	Lines    []QuoteLine     `json:"lines"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	PricedAt time.Time       `json:"priced_at"`
}
