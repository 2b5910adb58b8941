// Package redis provides a shared page cache so several service replicas
// reuse each other's feature API pages.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

const keyPrefix = "hotspot-sync:page:"

// PageCache stores decoded feature pages in Redis with a fixed TTL.
type PageCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewPageCache connects to Redis and verifies the connection.
func NewPageCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*PageCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewPageCacheFromClient(client, ttl), nil
}

// NewPageCacheFromClient wraps an existing client.
func NewPageCacheFromClient(client *goredis.Client, ttl time.Duration) *PageCache {
	return &PageCache{client: client, ttl: ttl}
}

func (c *PageCache) Get(ctx context.Context, key string) (domain.Page, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Page{}, false, nil
	}
	if err != nil {
		return domain.Page{}, false, fmt.Errorf("redis get: %w", err)
	}
	page, err := decodePage(data)
	if err != nil {
		return domain.Page{}, false, err
	}
	return page, true, nil
}

func (c *PageCache) Set(ctx context.Context, key string, page domain.Page) error {
	data, err := encodePage(page)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *PageCache) Close() error {
	return c.client.Close()
}

// cacheKey hashes the page URL to keep keys short and uniform.
func cacheKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func encodePage(page domain.Page) ([]byte, error) {
	data, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return data, nil
}

func decodePage(data []byte) (domain.Page, error) {
	var page domain.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return domain.Page{}, fmt.Errorf("decode cached page: %w", err)
	}
	return page, nil
}
