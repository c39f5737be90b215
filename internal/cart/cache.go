package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CartCacheKey(userID string) string
}

// Cache keeps the last stored cart document per user.
type Cache interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.CartDocument, bool, error)
	Put(ctx context.Context, doc *models.CartDocument) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type redisCache struct {
	store cacheStore
	ttl   time.Duration
}

// NewRedisCache builds a document cache with the given ttl.
func NewRedisCache(store cacheStore, ttl time.Duration) (Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cart cache ttl must be positive")
	}
	return &redisCache{store: store, ttl: ttl}, nil
}

func (c *redisCache) Get(ctx context.Context, userID uuid.UUID) (*models.CartDocument, bool, error) {
	raw, err := c.store.Get(ctx, c.store.CartCacheKey(userID.String()))
	if err != nil {
		if isCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var doc models.CartDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// unreadable entries are treated as misses and overwritten on the next load
		return nil, false, nil
	}
	return &doc, true, nil
}

func (c *redisCache) Put(ctx context.Context, doc *models.CartDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cart document: %w", err)
	}
	return c.store.Set(ctx, c.store.CartCacheKey(doc.UserID.String()), payload, c.ttl)
}

func (c *redisCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.store.Del(ctx, c.store.CartCacheKey(userID.String()))
}

func isCacheMiss(err error) bool {
	return redis.IsNil(err)
}
