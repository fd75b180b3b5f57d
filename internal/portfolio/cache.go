package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dreamGarden/internal/database"
)

// Cache 是作品集快照的读缓存。未命中时 Get 返回 (nil, nil)。
type Cache interface {
	Get(ctx context.Context, studentID uint) (*database.Portfolio, error)
	Set(ctx context.Context, p *database.Portfolio) error
	Invalidate(ctx context.Context, studentID uint) error
}

// RedisCache 以 JSON 形式把快照存入 Redis。
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache 构造 RedisCache。
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(studentID uint) string {
	return fmt.Sprintf("portfolio:%d", studentID)
}

func (c *RedisCache) Get(ctx context.Context, studentID uint) (*database.Portfolio, error) {
	data, err := c.client.Get(ctx, cacheKey(studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached portfolio: %w", err)
	}
	var p database.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached portfolio: %w", err)
	}
	return &p, nil
}

func (c *RedisCache) Set(ctx context.Context, p *database.Portfolio) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(p.StudentID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache portfolio: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, studentID uint) error {
	if err := c.client.Del(ctx, cacheKey(studentID)).Err(); err != nil {
		return fmt.Errorf("invalidate portfolio: %w", err)
	}
	return nil
}
