package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrKeySetUnavailable marks a failed remote key-set fetch. It is the one
// transient condition on the verification path and maps to HTTP 503.
var ErrKeySetUnavailable = errors.New("signing key set unavailable")

// KeySource provides the current set of trusted signing keys.
type KeySource interface {
	Keys(ctx context.Context) (jwk.Set, error)
}

// snapshot is an immutable (set, fetchedAt) pair. The cache slot is swapped
// whole so readers never observe a partially populated key set.
type snapshot struct {
	set       jwk.Set
	fetchedAt time.Time
}

// KeySetCache fetches the remote JWKS lazily and serves it for the
// configured lifetime. Concurrent cache-miss refreshes are tolerated,
// last writer wins.
type KeySetCache struct {
	url      string
	lifetime time.Duration
	client   *http.Client
	current  atomic.Pointer[snapshot]
}

type KeySetOption func(*KeySetCache)

// WithHTTPClient overrides the HTTP client used for key-set fetches.
func WithHTTPClient(client *http.Client) KeySetOption {
	return func(c *KeySetCache) {
		c.client = client
	}
}

func NewKeySetCache(url string, lifetime time.Duration, opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		url:      url,
		lifetime: lifetime,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Warm performs the eager startup fetch. The process must not begin
// accepting requests if this fails.
func (c *KeySetCache) Warm(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// Keys returns the cached key set while it is fresh, otherwise performs one
// refresh attempt. A failed refresh is an error even when an expired
// snapshot exists; stale keys are never served.
func (c *KeySetCache) Keys(ctx context.Context) (jwk.Set, error) {
	if snap := c.current.Load(); snap != nil && time.Since(snap.fetchedAt) <= c.lifetime {
		return snap.set, nil
	}
	return c.refresh(ctx)
}

func (c *KeySetCache) refresh(ctx context.Context) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, c.url, jwk.WithHTTPClient(c.client))
	if err != nil {
		slog.Error("Failed to fetch key set", slog.String("url", c.url), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	// An empty keys array would let every token fail as "key not found"
	// while looking like a healthy cache. Treat it as a fetch failure.
	if set.Len() == 0 {
		slog.Error("Key set endpoint returned no keys", slog.String("url", c.url))
		return nil, fmt.Errorf("%w: empty key set", ErrKeySetUnavailable)
	}

	c.current.Store(&snapshot{set: set, fetchedAt: time.Now()})
	slog.Debug("Key set refreshed", slog.Int("keys", set.Len()))
	return set, nil
}
