package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
)

// CartCache holds read-through snapshots of carts. A snapshot carries movie ids
// and quantities only. Prices are resolved against the catalog at checkout and
// never cached here.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Config names and expires cached carts. Each entry lives TTL plus a random
// share of Jitter.
type Config struct {
	KeyPrefix string
	TTL       time.Duration
	Jitter    time.Duration
}

func DefaultConfig() Config {
	return Config{KeyPrefix: "cinema:cart", TTL: 15 * time.Minute, Jitter: 5 * time.Minute}
}
