package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cinema/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, cfg Config) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, cfg), mr
}

func TestSetThenGet(t *testing.T) {
	cache, _ := setupTestRedis(t, DefaultConfig())
	added := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cart := &domain.Cart{
		ID:     "mongo-id",
		UserID: "user123",
		Items: []domain.CartItem{
			{MovieID: 1, Quantity: 2, AddedAt: added},
			{MovieID: 2, Quantity: 1, AddedAt: added},
		},
		CreatedAt: added,
		UpdatedAt: added,
	}
	require.NoError(t, cache.Set(context.Background(), "user123", cart))

	result, err := cache.Get(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
	assert.Empty(t, result.ID, "storage id is not cached")
	require.Len(t, result.Items, 2)
	assert.Equal(t, int64(1), result.Items[0].MovieID)
	assert.Equal(t, 2, result.Items[0].Quantity)
	assert.True(t, added.Equal(result.Items[0].AddedAt))
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t, DefaultConfig())

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_OtherVersionIsMiss(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	require.NoError(t, mr.Set(cache.key("user123"), `{"v":0,"user_id":"user123","lines":[{"movie_id":1,"qty":1}]}`))

	_, err := cache.Get(context.Background(), "user123")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGet_InvalidLine(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	require.NoError(t, mr.Set(cache.key("user123"), `{"v":1,"user_id":"user123","lines":[{"movie_id":1,"qty":0}]}`))

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "invalid line for movie 1")
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	require.NoError(t, mr.Set(cache.key("user123"), `{"user_id":"us`))

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_StoresOnlyMovieLines(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())

	cart := &domain.Cart{UserID: "user789", Items: []domain.CartItem{{MovieID: 10, Quantity: 1}}}
	require.NoError(t, cache.Set(context.Background(), "user789", cart))

	stored, err := mr.Get(cache.key("user789"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored), &raw))
	assert.Equal(t, float64(entryVersion), raw["v"])
	lines := raw["lines"].([]any)
	require.Len(t, lines, 1)
	assert.ElementsMatch(t, []string{"movie_id", "qty", "added_at"}, keys(lines[0].(map[string]any)))
}

func TestSet_TTLWithJitter(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	require.NoError(t, cache.Set(context.Background(), "user789", &domain.Cart{UserID: "user789"}))

	ttl := mr.TTL(cache.key("user789"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute, "TTL should be at least base TTL")
	assert.Less(t, ttl, 20*time.Minute, "TTL should be base + max jitter")
}

func TestSet_FixedTTL(t *testing.T) {
	cache, mr := setupTestRedis(t, Config{KeyPrefix: "test:cart", TTL: time.Minute})
	require.NoError(t, cache.Set(context.Background(), "u1", &domain.Cart{UserID: "u1"}))

	assert.True(t, mr.Exists("test:cart:u1"))
	assert.Equal(t, time.Minute, mr.TTL("test:cart:u1"))
}

func TestSet_RedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	mr.Close()

	err := cache.Set(context.Background(), "user1", &domain.Cart{UserID: "user1"})
	assert.ErrorContains(t, err, "redis set failed")
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t, DefaultConfig())
	require.NoError(t, mr.Set(cache.key("user999"), `{"v":1,"user_id":"user999"}`))

	require.NoError(t, cache.Delete(context.Background(), "user999"))
	assert.False(t, mr.Exists(cache.key("user999")))

	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestKey_DefaultsApplied(t *testing.T) {
	cache := NewRedisCache(nil, Config{})
	assert.Equal(t, "cinema:cart:test123", cache.key("test123"))
	assert.Equal(t, 15*time.Minute, cache.cfg.TTL)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
