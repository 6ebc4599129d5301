package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, invoiceID string) (*domain.Invoice, bool) {
	data, err := c.client.Get(ctx, "invoice:"+invoiceID).Bytes()
	if err != nil {
		return nil, false
	}

	var inv domain.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, false
	}
	return &inv, true
}

func (c *RedisCache) Set(ctx context.Context, invoiceID string, inv *domain.Invoice, ttl time.Duration) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "invoice:"+invoiceID, data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
