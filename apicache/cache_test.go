package apicache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taxonfinder/apicache"
)

func TestCache_PutGetWithinTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := apicache.Open(path, 7*24*time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "липа", "ru", `{"results":[]}`))

	got, ok, err := cache.Get(ctx, "липа", "ru")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"results":[]}`, got)
}

func TestCache_MissReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := apicache.Open(path, time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get(context.Background(), "absent", "ru")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_ExpiredEntryEvicted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := apicache.Open(path, -1*time.Second)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "q", "ru", `{}`))

	_, ok, err := cache.Get(ctx, "q", "ru")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_Reopen_UpgradesFromBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := apicache.Open(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	reopened, err := apicache.Open(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()
}
