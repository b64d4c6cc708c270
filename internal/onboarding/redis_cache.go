package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/padelgate/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "onboarding:"

// RedisCache はRedisを使用したStatusCache。複数インスタンス間で状態を共有する。
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisClient はアドレスとパスワードからRedisクライアントを生成する。
func NewRedisClient(addr, password string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

// Get はStatusCacheインターフェースを実装する。
func (c *RedisCache) Get(ctx context.Context, userID string) (model.OnboardingStatus, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.OnboardingStatus{}, false, nil
	}
	if err != nil {
		return model.OnboardingStatus{}, false, fmt.Errorf("failed to get cached status: %w", err)
	}

	var status model.OnboardingStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return model.OnboardingStatus{}, false, fmt.Errorf("failed to decode cached status: %w", err)
	}
	return status, true, nil
}

// Set はStatusCacheインターフェースを実装する。未完了の状態は保持しない。
func (c *RedisCache) Set(ctx context.Context, userID string, status model.OnboardingStatus) error {
	if !status.Completed {
		return nil
	}

	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// Invalidate はStatusCacheインターフェースを実装する。
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached status: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// compile-time interface check
var _ StatusCache = (*RedisCache)(nil)
