package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Movie struct {
	ID        int64
	Name      string
	Year      int
	Price     decimal.Decimal
	Available bool
	CreatedAt time.Time
}
