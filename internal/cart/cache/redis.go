package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/redis/go-redis/v9"
)

// entryVersion changes whenever the stored layout does. Entries written by
// another version are treated as misses and refilled from Mongo.
const entryVersion = 1

type entry struct {
	Version   int       `json:"v"`
	UserID    string    `json:"user_id"`
	Lines     []line    `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type line struct {
	MovieID  int64     `json:"movie_id"`
	Quantity int       `json:"qty"`
	AddedAt  time.Time `json:"added_at"`
}

type RedisCache struct {
	client *redis.Client
	cfg    Config
}

func NewRedisCache(client *redis.Client, cfg Config) *RedisCache {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &RedisCache{client: client, cfg: cfg}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if e.Version != entryVersion || e.UserID != userID {
		return nil, ErrCacheMiss
	}

	cart := &domain.Cart{
		UserID:    e.UserID,
		Items:     make([]domain.CartItem, 0, len(e.Lines)),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	for _, l := range e.Lines {
		if l.MovieID <= 0 || l.Quantity <= 0 {
			return nil, fmt.Errorf("cached cart of %s has invalid line for movie %d", userID, l.MovieID)
		}
		cart.Items = append(cart.Items, domain.CartItem{MovieID: l.MovieID, Quantity: l.Quantity, AddedAt: l.AddedAt})
	}
	return cart, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	e := entry{
		Version:   entryVersion,
		UserID:    userID,
		Lines:     make([]line, 0, len(cart.Items)),
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		e.Lines = append(e.Lines, line{MovieID: item.MovieID, Quantity: item.Quantity, AddedAt: item.AddedAt})
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, r.key(userID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	if r.cfg.Jitter <= 0 {
		return r.cfg.TTL
	}
	return r.cfg.TTL + time.Duration(rand.Int63n(int64(r.cfg.Jitter)))
}

func (r *RedisCache) key(userID string) string {
	return r.cfg.KeyPrefix + ":" + userID
}
