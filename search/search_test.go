package search_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder/search"
)

type fakeCache struct {
	store map[string]string
	puts  int
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string]string{}} }

func key(q, l string) string { return q + "|" + l }

func (c *fakeCache) Get(ctx context.Context, query, locale string) (string, bool, error) {
	v, ok := c.store[key(query, locale)]
	return v, ok, nil
}

func (c *fakeCache) Put(ctx context.Context, query, locale, responseJSON string) error {
	c.puts++
	c.store[key(query, locale)] = responseJSON
	return nil
}

func TestSearch_CacheHit_SkipsUpstream(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cache := newFakeCache()
	cache.store[key("липа", "ru")] = `{"results":[{"id":1,"name":"Tilia","rank":"genus"}]}`

	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 2}, cache, nil)
	matches, err := s.Search(context.Background(), "липа", "ru")

	require.NoError(t, err)
	assert.False(t, called)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].TaxonID)
}

func TestSearch_CacheMiss_RequestsAndStores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "липа", r.URL.Query().Get("q"))
		w.Write([]byte(`{"results":[{"id":54586,"name":"Tilia cordata","rank":"species","matched_name":"липа","score":0.9}]}`))
	}))
	defer server.Close()

	cache := newFakeCache()
	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 2}, cache, nil)
	matches, err := s.Search(context.Background(), "липа", "ru")

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 54586, matches[0].TaxonID)
	assert.Equal(t, 1, cache.puts)
}

type failingCache struct{ err error }

func (c *failingCache) Get(ctx context.Context, query, locale string) (string, bool, error) {
	return "", false, nil
}

func (c *failingCache) Put(ctx context.Context, query, locale, responseJSON string) error {
	return c.err
}

func TestSearch_CacheWriteFails_StillReturnsMatchesAndLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"id":54586,"name":"Tilia cordata","rank":"species","matched_name":"липа","score":0.9}]}`))
	}))
	defer server.Close()

	cache := &failingCache{err: assert.AnError}
	var loggedCalls int
	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 2}, cache, nil,
		search.WithLogger(func(format string, args ...any) { loggedCalls++ }))

	matches, err := s.Search(context.Background(), "липа", "ru")

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 54586, matches[0].TaxonID)
	assert.Equal(t, 1, loggedCalls)
}

func TestSearch_RetriesOn503_ThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 3}, nil, nil)
	setSleepNoop(t, s)

	matches, err := s.Search(context.Background(), "q", "ru")

	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSearch_NonRetryableStatus_FailsImmediately(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 3}, nil, nil)
	setSleepNoop(t, s)

	_, err := s.Search(context.Background(), "q", "ru")

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestSearch_RetriesExhausted_ReturnsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := search.New(server.Client(), search.Config{BaseURL: server.URL, MaxRetries: 1}, nil, nil)
	setSleepNoop(t, s)

	_, err := s.Search(context.Background(), "q", "ru")
	require.Error(t, err)
}

// setSleepNoop replaces the backoff sleep with a no-op so retry tests run
// fast; it reaches into the unexported fields via the test-only accessor in
// export_test.go.
func setSleepNoop(t *testing.T, s *search.INaturalistSearcher) {
	t.Helper()
	search.SetSleepForTest(s, func(time.Duration) {})
}
