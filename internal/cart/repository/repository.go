package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cinema/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository stores one cart document per user.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// AddItem adds qty to the movie's line, creating the cart and the line as needed.
	AddItem(ctx context.Context, userID string, movieID int64, qty int) error
	// RemoveItem is a no-op when the line or the cart does not exist.
	RemoveItem(ctx context.Context, userID string, movieID int64) error
	DeleteCart(ctx context.Context, userID string) error
}
