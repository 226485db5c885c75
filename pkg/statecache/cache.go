// Package statecache stores pending OAuth authorization state: the random
// state parameter maps to the user who started the flow and their PKCE
// verifier, for the short window between redirect and callback.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftscribe/craftscribe/pkg/config"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a state key is absent or already consumed.
var ErrNotFound = errors.New("state not found")

// Entry is the value stored per state key.
type Entry struct {
	UserID    string    `json:"user_id"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache is a TTL key-value store with single-use reads.
type Cache interface {
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Take returns and deletes the entry so a state can be consumed once.
	Take(ctx context.Context, key string) (Entry, error)
	Close() error
}

// NewFromConfig builds the backend named by the configuration.
func NewFromConfig(cfg *config.Config) (Cache, error) {
	switch cfg.StateCache.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StateCache.RedisAddr,
			Password: cfg.StateCache.RedisPassword,
			DB:       cfg.StateCache.RedisDB,
		})
		return NewRedisCache(rdb, ""), nil
	default:
		return nil, fmt.Errorf("unsupported state cache type: %s", cfg.StateCache.Type)
	}
}
