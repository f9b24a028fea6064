package cache

import (
	"context"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const revokedPrefix = "revoked:"

// TokenDenylist remembers revoked token ids until the token would have
// expired anyway.
type TokenDenylist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// NewDenylist picks the Redis list when a client is available and the
// in-process one otherwise.
func NewDenylist(client *redisv9.Client) TokenDenylist {
	if client == nil {
		return NewMemoryDenylist()
	}
	return &RedisDenylist{client: client}
}

type RedisDenylist struct {
	client *redisv9.Client
}

func NewRedisDenylist(client *redisv9.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func (d *RedisDenylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err()
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryDenylist is used when Redis is not configured. Revocations do not
// survive a restart and are not shared between instances.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !expiresAt.After(d.now()) {
		return nil
	}
	d.entries[jti] = expiresAt
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, id)
		}
	}
	_, ok := d.entries[jti]
	return ok, nil
}
