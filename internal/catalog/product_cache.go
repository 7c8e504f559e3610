package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// CachedProductReader is a read-through Redis cache in front of a ProductReader
type CachedProductReader struct {
	next    ProductReader
	client  redis.UniversalClient
	baseTTL time.Duration
	sfg     singleflight.Group // Prevents cache stampede
	log     *zap.Logger
}

func NewCachedProductReader(next ProductReader, client redis.UniversalClient, baseTTL time.Duration, log *zap.Logger) *CachedProductReader {
	return &CachedProductReader{
		next:    next,
		client:  client,
		baseTTL: baseTTL,
		log:     log,
	}
}

func (c *CachedProductReader) GetProduct(ctx context.Context, tenantID string, productID int64) (*domain.Product, error) {
	key := cacheKey(tenantID, productID)

	v, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		product, err := c.get(ctx, key)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("product cache get failed", zap.String("key", key), zap.Error(err))
		}

		product, err = c.next.GetProduct(ctx, tenantID, productID)
		if err != nil {
			return nil, err
		}

		go func(p domain.Product) {
			if err := c.set(context.Background(), key, &p); err != nil {
				c.log.Warn("product cache set failed", zap.String("key", key), zap.Error(err))
			}
		}(*product)

		return product, nil
	})
	if err != nil {
		return nil, err
	}

	product := *v.(*domain.Product)
	return &product, nil
}

// Invalidate drops a cached product after it changed
func (c *CachedProductReader) Invalidate(ctx context.Context, tenantID string, productID int64) error {
	if err := c.client.Del(ctx, cacheKey(tenantID, productID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *CachedProductReader) get(ctx context.Context, key string) (*domain.Product, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var product domain.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("unmarshal product failed: %w", err)
	}
	return &product, nil
}

func (c *CachedProductReader) set(ctx context.Context, key string, product *domain.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("marshal product failed: %w", err)
	}

	jitter := time.Duration(rand.Int63n(int64(c.baseTTL)/5 + 1))
	if err := c.client.Set(ctx, key, data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func cacheKey(tenantID string, productID int64) string {
	return fmt.Sprintf("product:%s:%d", tenantID, productID)
}
