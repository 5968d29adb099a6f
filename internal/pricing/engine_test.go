package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMovies struct {
	movies map[int64]*domain.Movie
	err    error
	calls  int
}

func (m *mockMovies) GetMovies(_ context.Context, ids []int64) (map[int64]*domain.Movie, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64]*domain.Movie)
	for _, id := range ids {
		if mv, ok := m.movies[id]; ok {
			cp := *mv
			out[id] = &cp
		}
	}
	return out, nil
}

func movie(id int64, name, price string, available bool) *domain.Movie {
	return &domain.Movie{ID: id, Name: name, Price: decimal.RequireFromString(price), Available: available}
}

func cartOf(items ...domain.CartItem) *domain.Cart {
	return &domain.Cart{UserID: "user-1", Items: items}
}

func TestPriceCart(t *testing.T) {
	src := &mockMovies{movies: map[int64]*domain.Movie{
		1: movie(1, "Alien", "9.99", true),
		2: movie(2, "Heat", "7.49", true),
	}}
	e := NewEngine(src, "USD")
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	q, err := e.PriceCart(context.Background(), cartOf(
		domain.CartItem{MovieID: 1, Quantity: 1},
		domain.CartItem{MovieID: 2, Quantity: 2},
	))
	require.NoError(t, err)
	require.Len(t, q.Lines, 2)
	assert.Equal(t, "Alien", q.Lines[0].MovieName)
	assert.Equal(t, "14.98", q.Lines[1].Subtotal.StringFixed(2))
	assert.Equal(t, "24.97", q.Total.StringFixed(2))
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, 2026, q.PricedAt.Year())
}

func TestPriceCart_ReResolvesEveryCall(t *testing.T) {
	src := &mockMovies{movies: map[int64]*domain.Movie{1: movie(1, "Alien", "9.99", true)}}
	e := NewEngine(src, "USD")
	cart := cartOf(domain.CartItem{MovieID: 1, Quantity: 1})

	first, err := e.PriceCart(context.Background(), cart)
	require.NoError(t, err)

	src.movies[1].Price = decimal.RequireFromString("4.99")
	second, err := e.PriceCart(context.Background(), cart)
	require.NoError(t, err)

	assert.Equal(t, "9.99", first.Total.StringFixed(2))
	assert.Equal(t, "4.99", second.Total.StringFixed(2))
	assert.Equal(t, 2, src.calls)
}

func TestPriceCart_Unavailable(t *testing.T) {
	src := &mockMovies{movies: map[int64]*domain.Movie{
		1: movie(1, "Alien", "9.99", true),
		5: movie(5, "The Thing", "8.50", false),
	}}
	e := NewEngine(src, "USD")

	tests := []struct {
		name    string
		movieID int64
	}{
		{"withdrawn", 5},
		{"missing", 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.PriceCart(context.Background(), cartOf(
				domain.CartItem{MovieID: 1, Quantity: 1},
				domain.CartItem{MovieID: tt.movieID, Quantity: 1},
			))
			require.ErrorIs(t, err, domain.ErrItemUnavailable)

			var unavailable *domain.ItemUnavailableError
			require.True(t, errors.As(err, &unavailable))
			assert.Equal(t, tt.movieID, unavailable.MovieID)
		})
	}
}

func TestPriceCart_EmptyCart(t *testing.T) {
	e := NewEngine(&mockMovies{}, "USD")

	_, err := e.PriceCart(context.Background(), cartOf())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	_, err = e.PriceCart(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestPriceCart_SourceError(t *testing.T) {
	e := NewEngine(&mockMovies{err: errors.New("disk I/O error")}, "USD")

	_, err := e.PriceCart(context.Background(), cartOf(domain.CartItem{MovieID: 1, Quantity: 1}))
	assert.ErrorContains(t, err, "disk I/O error")
}
