package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, time.Minute), mr
}

func TestRedisCache_GetMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	p, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, p)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	sale := 8.5
	product := &Product{
		ID:     "p-1",
		Name:   "T-shirt",
		Status: StatusPublished,
		Variants: []Variant{
			{SKU: "TS-RED-M", Name: "Red M", Price: 10, SalePrice: &sale, Stock: 3, Attributes: map[string]string{"color": "red"}},
		},
	}

	require.NoError(t, cache.Set(ctx, product))
	require.True(t, mr.Exists("product:p-1"))

	ttl := mr.TTL("product:p-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, 6*time.Minute)

	got, err := cache.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, product.Name, got.Name)
	assert.Equal(t, 8.5, got.Variants[0].EffectivePrice())

	require.NoError(t, cache.Delete(ctx, "p-1"))
	assert.False(t, mr.Exists("product:p-1"))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("p-1"), "{not json"))

	_, err := cache.Get(context.Background(), "p-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_RoundTripsJSONShape(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, cache.Set(context.Background(), &Product{ID: "p-2", Name: "Mug", Status: StatusDraft}))

	raw, err := mr.Get(cacheKey("p-2"))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "draft", decoded["status"])
}
