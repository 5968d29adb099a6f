package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/shopspring/decimal"
)

// MovieSource resolves current catalog entries by id. Unknown ids are absent
// from the returned map.
type MovieSource interface {
	GetMovies(ctx context.Context, ids []int64) (map[int64]*domain.Movie, error)
}

// Engine prices carts against the live catalog. It keeps no state between
// calls, so every quote reflects the prices at the moment it was made.
type Engine struct {
	movies   MovieSource
	currency string
	now      func() time.Time
}

func NewEngine(movies MovieSource, currency string) *Engine {
	return &Engine{movies: movies, currency: currency, now: time.Now}
}

// PriceCart fails with *domain.ItemUnavailableError for the first line, in
// cart order, whose movie is missing or withdrawn from sale.
func (e *Engine) PriceCart(ctx context.Context, cart *domain.Cart) (*domain.Quote, error) {
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	ids := make([]int64, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.MovieID)
	}
	movies, err := e.movies.GetMovies(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve movie prices: %w", err)
	}

	quote := &domain.Quote{
		Lines:    make([]domain.QuoteLine, 0, len(cart.Items)),
		Total:    decimal.Zero,
		Currency: e.currency,
		PricedAt: e.now().UTC(),
	}
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("movie %d quantity %d: %w", item.MovieID, item.Quantity, domain.ErrInvalidQuantity)
		}
		m, ok := movies[item.MovieID]
		if !ok || !m.Available {
			return nil, &domain.ItemUnavailableError{MovieID: item.MovieID}
		}
		subtotal := m.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		quote.Lines = append(quote.Lines, domain.QuoteLine{
			MovieID:   m.ID,
			MovieName: m.Name,
			Quantity:  item.Quantity,
			UnitPrice: m.Price,
			Subtotal:  subtotal,
		})
		quote.Total = quote.Total.Add(subtotal)
	}
	return quote, nil
}
