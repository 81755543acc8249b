// Package cache 提供按用户隔离的 TTL 读穿缓存，只依赖过期失效。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/metrics"
)

// ErrMiss 表示键不存在或已过期
var ErrMiss = errors.New("cache miss")

// DefaultTTL 是未指定 TTL 时的默认过期时间
const DefaultTTL = time.Hour

// Store 是底层字节存储。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Cache 在 Store 之上做 JSON 序列化与键命名。
type Cache struct {
	store Store
	ttl   time.Duration
}

// New 创建缓存；ttl<=0 时使用 DefaultTTL。
func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// Key 组装 <scope>:<user_id>:<key>。
func Key(scope string, userID uint, key string) string {
	return fmt.Sprintf("%s:%d:%s", scope, userID, key)
}

// Get 读取并反序列化到 dst，未命中返回 false。
func (c *Cache) Get(ctx context.Context, scope string, userID uint, key string, dst any) (bool, error) {
	raw, err := c.store.Get(ctx, Key(scope, userID, key))
	if errors.Is(err, ErrMiss) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false, fmt.Errorf("cache decode: %w", err)
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true, nil
}

// Set 序列化 value 并写入；ttl<=0 时使用缓存的默认 TTL。
func (c *Cache) Set(ctx context.Context, scope string, userID uint, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.store.Set(ctx, Key(scope, userID, key), raw, ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close 关闭底层存储。
func (c *Cache) Close() error {
	return c.store.Close()
}

// Remember 先读缓存，未命中时调用 load 并回写。
// 缓存读写失败只记录日志，不影响结果。
func Remember[T any](ctx context.Context, c *Cache, scope string, userID uint, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	var out T
	if c == nil {
		return load()
	}

	hit, err := c.Get(ctx, scope, userID, key, &out)
	if err != nil {
		logger.L().Warn("cache_read_failed", zap.String("scope", scope), zap.Uint("user_id", userID), zap.Error(err))
	}
	if hit {
		return out, nil
	}

	out, err = load()
	if err != nil {
		return out, err
	}
	if err := c.Set(ctx, scope, userID, key, out, ttl); err != nil {
		logger.L().Warn("cache_write_failed", zap.String("scope", scope), zap.Uint("user_id", userID), zap.Error(err))
	}
	return out, nil
}
