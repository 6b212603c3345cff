package headercache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCacheRoundTrip checks basic put/get behavior and persistence across
// reopen.
func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "headers.db")

	cache, err := Open(path, "mainnet")
	require.NoError(t, err)

	_, ok := cache.BlockTime(100)
	require.False(t, ok)

	stamp := time.Unix(1651158666, 0).UTC()
	require.NoError(t, cache.PutBlockTime(100, stamp))

	got, ok := cache.BlockTime(100)
	require.True(t, ok)
	require.Equal(t, stamp, got)

	require.NoError(t, cache.Close())

	// Entries survive a reopen.
	cache, err = Open(path, "mainnet")
	require.NoError(t, err)
	defer cache.Close()

	got, ok = cache.BlockTime(100)
	require.True(t, ok)
	require.Equal(t, stamp, got)
}

// TestCacheNetworkIsolation checks that networks do not see each other's
// entries.
func TestCacheNetworkIsolation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "headers.db")

	mainnet, err := Open(path, "mainnet")
	require.NoError(t, err)

	stamp := time.Unix(1700000000, 0).UTC()
	require.NoError(t, mainnet.PutBlockTime(1, stamp))
	require.NoError(t, mainnet.Close())

	testnet, err := Open(path, "testnet")
	require.NoError(t, err)
	defer testnet.Close()

	_, ok := testnet.BlockTime(1)
	require.False(t, ok)
}

// TestCacheBatch checks multi-entry writes.
func TestCacheBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "headers.db")

	cache, err := Open(path, "mainnet")
	require.NoError(t, err)
	defer cache.Close()

	times := map[int32]time.Time{
		1: time.Unix(1231469665, 0).UTC(),
		2: time.Unix(1231469744, 0).UTC(),
		3: time.Unix(1231470173, 0).UTC(),
	}
	require.NoError(t, cache.PutBatch(times))

	for height, want := range times {
		got, ok := cache.BlockTime(height)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

// TestCacheClosed checks the closed-cache error paths.
func TestCacheClosed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "headers.db")

	cache, err := Open(path, "mainnet")
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	require.ErrorIs(t, cache.Close(), ErrNotOpen)
	require.ErrorIs(t, cache.PutBlockTime(1, time.Now()), ErrNotOpen)

	_, ok := cache.BlockTime(1)
	require.False(t, ok)
}
