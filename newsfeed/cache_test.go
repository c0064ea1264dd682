package newsfeed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContentCache verifies body caching by URL
func TestContentCache(t *testing.T) {
	cache := NewContentCache(filepath.Join(t.TempDir(), "content"))

	_, ok := cache.Get("https://e.com/a")
	assert.False(t, ok)

	require.NoError(t, cache.Put("https://e.com/a", "full body"))
	got, ok := cache.Get("https://e.com/a")
	assert.True(t, ok)
	assert.Equal(t, "full body", got)

	_, ok = cache.Get("https://e.com/b")
	assert.False(t, ok)

	require.NoError(t, cache.Put("https://e.com/a", "updated"))
	got, _ = cache.Get("https://e.com/a")
	assert.Equal(t, "updated", got)
}

// TestClearCache verifies cache contents are removed and articles kept
func TestClearCache(t *testing.T) {
	feed := setupTestFeed(t)
	_, err := feed.Save(sampleArticle("Kept", "https://e.com/kept", 0))
	require.NoError(t, err)

	require.NoError(t, feed.ContentCache().Put("https://e.com/1", "one"))
	require.NoError(t, feed.ContentCache().Put("https://e.com/2", "two"))
	require.NoError(t, os.WriteFile(filepath.Join(feed.CacheDir(), "twig.php"), []byte("x"), 0o644))

	result := feed.ClearCache()
	assert.True(t, result.Success)
	assert.Equal(t, "Cache cleared successfully", result.Message)
	assert.Equal(t, 3, result.DeletedFiles)
	assert.Equal(t, 1, result.DeletedDirectories)

	entries, err := os.ReadDir(feed.CacheDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "the cache directory itself is kept, empty")

	ok, err := feed.Exists("https://e.com/kept")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestClearCacheMissingDir verifies a missing cache directory is success
func TestClearCacheMissingDir(t *testing.T) {
	feed := setupTestFeed(t, WithCacheDir(filepath.Join(t.TempDir(), "nope")))

	result := feed.ClearCache()
	assert.True(t, result.Success)
	assert.Equal(t, "Cache directory does not exist", result.Message)
	assert.Zero(t, result.DeletedFiles)
	assert.Zero(t, result.DeletedDirectories)
}
