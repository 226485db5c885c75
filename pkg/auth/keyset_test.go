package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/craftscribe/craftscribe/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jwksServer serves a JWKS document and counts fetches. Set fail to answer
// 500 instead.
type jwksServer struct {
	*httptest.Server
	fetches atomic.Int64
	fail    atomic.Bool
	empty   atomic.Bool
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()

	_, set := newSigningKey(t, testKeyID)
	body, err := json.Marshal(set)
	require.NoError(t, err)

	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.fail.Load() {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if s.empty.Load() {
			w.Write([]byte(`{"keys":[]}`))
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestKeySetCacheServesCachedSet(t *testing.T) {
	server := newJWKSServer(t)
	cache := auth.NewKeySetCache(server.URL, time.Hour)

	ctx := context.Background()
	first, err := cache.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Len())

	second, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), server.fetches.Load(), "fresh cache must not refetch")
}

func TestKeySetCacheRefreshesAfterLifetime(t *testing.T) {
	server := newJWKSServer(t)
	cache := auth.NewKeySetCache(server.URL, 10*time.Millisecond)

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), server.fetches.Load(), "expired cache must refetch")
}

func TestKeySetCacheNeverServesStale(t *testing.T) {
	server := newJWKSServer(t)
	cache := auth.NewKeySetCache(server.URL, 10*time.Millisecond)

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	server.fail.Store(true)

	// The expired snapshot still exists, but a failed refresh is an error.
	_, err = cache.Keys(ctx)
	assert.ErrorIs(t, err, auth.ErrKeySetUnavailable)

	// Still an error on the next call, not a one-off.
	_, err = cache.Keys(ctx)
	assert.ErrorIs(t, err, auth.ErrKeySetUnavailable)
}

func TestKeySetCacheRejectsEmptySet(t *testing.T) {
	server := newJWKSServer(t)
	server.empty.Store(true)
	cache := auth.NewKeySetCache(server.URL, time.Hour)

	_, err := cache.Keys(context.Background())
	assert.ErrorIs(t, err, auth.ErrKeySetUnavailable)
}

func TestKeySetCacheFetchFailure(t *testing.T) {
	server := newJWKSServer(t)
	server.fail.Store(true)
	cache := auth.NewKeySetCache(server.URL, time.Hour)

	_, err := cache.Keys(context.Background())
	assert.ErrorIs(t, err, auth.ErrKeySetUnavailable)
}

func TestKeySetCacheWarm(t *testing.T) {
	server := newJWKSServer(t)
	cache := auth.NewKeySetCache(server.URL, time.Hour)

	require.NoError(t, cache.Warm(context.Background()))
	assert.Equal(t, int64(1), server.fetches.Load())

	// Warmed cache answers without another fetch.
	_, err := cache.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), server.fetches.Load())
}

func TestKeySetCacheWarmFailureIsFatalToCaller(t *testing.T) {
	server := newJWKSServer(t)
	server.fail.Store(true)
	cache := auth.NewKeySetCache(server.URL, time.Hour)

	err := cache.Warm(context.Background())
	assert.ErrorIs(t, err, auth.ErrKeySetUnavailable)
}
