package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	redisv9 "github.com/redis/go-redis/v9"

	"csr-volunteer/config"
)

// NewClient connects to Redis. It returns a nil client when no address is
// configured, which callers treat as "Redis disabled".
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redisv9.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redisv9.NewClient(&redisv9.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return client, nil
}
