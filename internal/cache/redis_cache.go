package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokoku/internal/domain"
)

const activeListingKey = "tokoku:products:active"

type RedisListingCache struct {
	client *redis.Client
}

func NewRedisListingCache(addr string, password string, db int) *RedisListingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisListingCache{client: client}
}

func (c *RedisListingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisListingCache) Close() error {
	return c.client.Close()
}

func (c *RedisListingCache) Get(ctx context.Context) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, activeListingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal(val, &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisListingCache) Set(ctx context.Context, products []domain.Product, ttl time.Duration) error {
	if products == nil {
		products = []domain.Product{}
	}
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, activeListingKey, payload, ttl).Err()
}

func (c *RedisListingCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, activeListingKey).Err()
}
