package statecache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry      Entry
	expiration time.Time
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]memoryItem
	stop chan struct{}
	once sync.Once
}

// NewMemoryCache returns an in-process cache with a background janitor.
// Suitable for single-instance deployments; use the redis backend when
// callbacks can land on a different instance than the one that began auth.
func NewMemoryCache() Cache {
	c := &memoryCache{
		data: make(map[string]memoryItem),
		stop: make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *memoryCache) Put(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = memoryItem{
		entry:      entry,
		expiration: time.Now().Add(ttl),
	}
	return nil
}

func (c *memoryCache) Take(_ context.Context, key string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.data[key]
	if !found {
		return Entry{}, ErrNotFound
	}
	delete(c.data, key)

	if time.Now().After(item.expiration) {
		return Entry{}, ErrNotFound
	}
	return item.entry, nil
}

func (c *memoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *memoryCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, item := range c.data {
				if now.After(item.expiration) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
