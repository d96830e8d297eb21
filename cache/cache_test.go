package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, capacity int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), capacity, 1024)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGetDelete(t *testing.T) {
	c := newTestCache(t, 1<<20)

	hash := "aabbccdd00112233aabbccdd00112233"
	body := []byte("Subject: hi\r\n\r\nhello")

	_, err := c.Get(hash)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, c.Put(hash, body))
	got, err := c.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	count, size, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(len(body)), size)

	require.NoError(t, c.Delete(hash))
	_, err = c.Get(hash)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Deleting again is fine
	assert.NoError(t, c.Delete(hash))
}

func TestCacheSkipsOversizedObjects(t *testing.T) {
	c := newTestCache(t, 1<<20)
	c.maxObjectSize = 4

	require.NoError(t, c.Put("ffee00112233", []byte("too large for the cache")))
	_, err := c.Get("ffee00112233")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCachePurgeEvictsUntilUnderCapacity(t *testing.T) {
	c := newTestCache(t, 64)

	bodies := map[string][]byte{
		"1111aaaa2222bbbb": make([]byte, 40),
		"3333cccc4444dddd": make([]byte, 40),
		"5555eeee6666ffff": make([]byte, 40),
	}
	for h, b := range bodies {
		require.NoError(t, c.Put(h, b))
	}

	require.NoError(t, c.Purge())

	_, size, err := c.Stats()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(64))
}

func TestCachePurgeStopsWhenEvictionFails(t *testing.T) {
	c := newTestCache(t, 8)

	hash := "aaaa0000bbbb1111"
	require.NoError(t, c.Put(hash, make([]byte, 40)))

	// Make the cached file unremovable by swapping it for a non-empty
	// directory; Purge must give up instead of retrying the same victim.
	path := c.pathFor(hash)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "sub"), 0755))

	assert.Error(t, c.Purge())
}
