package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	redisv9 "github.com/redis/go-redis/v9"
)

// JSONCache stores JSON documents in Redis with a fixed TTL. A nil
// *JSONCache is valid and never hits.
type JSONCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

// NewJSONCache returns nil when client is nil.
func NewJSONCache(client *redisv9.Client, ttl time.Duration) *JSONCache {
	if client == nil {
		return nil
	}
	return &JSONCache{client: client, ttl: ttl}
}

// Get decodes the cached value into dst and reports whether it was present.
func (c *JSONCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "cache get %s", key)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, errors.Wrapf(err, "cache decode %s", key)
	}
	return true, nil
}

func (c *JSONCache) Set(ctx context.Context, key string, v interface{}) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cache encode %s", key)
	}
	return errors.Wrapf(c.client.Set(ctx, key, b, c.ttl).Err(), "cache set %s", key)
}

func (c *JSONCache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.client.Del(ctx, keys...).Err(), "cache delete")
}
