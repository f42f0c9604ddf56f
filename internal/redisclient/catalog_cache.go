package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader reads an item from the source of truth
type CatalogLoader func(ctx context.Context, id int64) (*models.CatalogItem, error)

// CatalogCache is a read-through cache of catalog items. Redis failures are
// logged and fall back to the loader; loader errors are never cached.
type CatalogCache struct {
	client *Client
	ttl    time.Duration
	load   CatalogLoader
	group  singleflight.Group
	logger *zap.Logger
}

// NewCatalogCache creates a catalog cache in front of load
func NewCatalogCache(client *Client, ttl time.Duration, load CatalogLoader) *CatalogCache {
	return &CatalogCache{
		client: client,
		ttl:    ttl,
		load:   load,
		logger: util.ComponentLogger("catalog_cache"),
	}
}

// Get returns the catalog item, loading and caching it on a miss
func (c *CatalogCache) Get(ctx context.Context, id int64) (*models.CatalogItem, error) {
	key := catalogKey(id)

	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var item models.CatalogItem
		if err := json.Unmarshal(data, &item); err == nil {
			return &item, nil
		}
		c.logger.Warn("Dropping undecodable catalog cache entry", zap.Int64("catalog_item_id", id))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("Catalog cache read failed", zap.Int64("catalog_item_id", id), zap.Error(err))
	}

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		item, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog item: %w", err)
		}
		if err := c.client.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("Catalog cache write failed", zap.Int64("catalog_item_id", id), zap.Error(err))
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}

	item := *v.(*models.CatalogItem)
	return &item, nil
}

// Invalidate removes a cached item
func (c *CatalogCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.rdb.Del(ctx, catalogKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func catalogKey(id int64) string {
	return fmt.Sprintf("catalog:item:%d", id)
}
