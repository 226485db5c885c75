package statecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCache struct {
	rdb   *redis.Client
	keyNS string
}

// NewRedisCache returns a Redis-backed cache. Entries are JSON values with
// a native Redis TTL.
func NewRedisCache(rdb *redis.Client, keyPrefix string) Cache {
	if keyPrefix == "" {
		keyPrefix = "craftscribe:oauth:state:"
	}
	return &redisCache{rdb: rdb, keyNS: keyPrefix}
}

func (c *redisCache) key(k string) string { return c.keyNS + k }

func (c *redisCache) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), b, ttl).Err()
}

func (c *redisCache) Take(ctx context.Context, key string) (Entry, error) {
	val, err := c.rdb.GetDel(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (c *redisCache) Close() error {
	return c.rdb.Close()
}
