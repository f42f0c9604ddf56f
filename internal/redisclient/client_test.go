package redisclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestLock_AcquireAndRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := client.AcquireLock(ctx, "intent:1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)
	assert.True(t, mr.Exists("lock:intent:1"))

	_, ok, err = client.AcquireLock(ctx, "intent:1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lock is already held")

	require.NoError(t, client.ReleaseLock(ctx, "intent:1", token))
	assert.False(t, mr.Exists("lock:intent:1"))

	_, ok, err = client.AcquireLock(ctx, "intent:1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseWithStaleTokenKeepsLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := client.AcquireLock(ctx, "intent:2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, "intent:2", "someone-else"))
	assert.True(t, mr.Exists("lock:intent:2"))
}

func TestLock_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := client.AcquireLock(ctx, "intent:3", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = client.AcquireLock(ctx, "intent:3", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyKey(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := client.GetIdempotencyKey(ctx, "checkout:1:abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetIdempotencyKey(ctx, "checkout:1:abc", 42, time.Hour))

	val, found, err := client.GetIdempotencyKey(ctx, "checkout:1:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", val)

	mr.FastForward(2 * time.Hour)
	_, found, err = client.GetIdempotencyKey(ctx, "checkout:1:abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	var loads int32
	cache := NewCatalogCache(client, time.Minute, func(ctx context.Context, id int64) (*models.CatalogItem, error) {
		atomic.AddInt32(&loads, 1)
		return &models.CatalogItem{ID: id, Name: "Phone", Price: decimal.RequireFromString("35.00"), Active: true}, nil
	})

	first, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	second, err := cache.Get(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.Equal(t, "Phone", second.Name)
	assert.True(t, first.Price.Equal(second.Price))
	assert.True(t, mr.Exists("catalog:item:7"))

	require.NoError(t, cache.Invalidate(ctx, 7))
	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestCatalogCache_LoaderErrorNotCached(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	errMissing := errors.New("missing")
	cache := NewCatalogCache(client, time.Minute, func(ctx context.Context, id int64) (*models.CatalogItem, error) {
		return nil, errMissing
	})

	_, err := cache.Get(ctx, 9)
	assert.ErrorIs(t, err, errMissing)
	assert.False(t, mr.Exists("catalog:item:9"))
}

func TestCatalogCache_RedisDownFallsBackToLoader(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	mr.Close()

	cache := NewCatalogCache(client, time.Minute, func(ctx context.Context, id int64) (*models.CatalogItem, error) {
		return &models.CatalogItem{ID: id, Name: "Tablet"}, nil
	})

	item, err := cache.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Tablet", item.Name)
}
