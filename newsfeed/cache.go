package newsfeed

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pevans/newsagg/logger"
)

// ClearCacheResult reports what ClearCache removed.
type ClearCacheResult struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	DeletedFiles       int    `json:"deleted_files"`
	DeletedDirectories int    `json:"deleted_directories"`
}

// ClearCache deletes everything inside the cache directory. Stored articles
// are never touched. A missing cache directory counts as success.
func (nf *NewsFeed) ClearCache() ClearCacheResult {
	nf.mu.Lock()
	defer nf.mu.Unlock()

	if _, err := os.Stat(nf.cacheDir); errors.Is(err, os.ErrNotExist) {
		return ClearCacheResult{
			Success: true,
			Message: "Cache directory does not exist",
		}
	}

	result := ClearCacheResult{}
	if err := clearDir(nf.cacheDir, &result); err != nil {
		nf.log.Error("Failed to clear cache", logger.Error(err))
		result.Message = "Failed to clear cache: " + err.Error()
		return result
	}

	nf.log.Info("Cleared cache",
		logger.Int("deleted_files", result.DeletedFiles),
		logger.Int("deleted_directories", result.DeletedDirectories),
	)
	result.Success = true
	result.Message = "Cache cleared successfully"
	return result
}

func clearDir(dir string, result *ClearCacheResult) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := clearDir(path, result); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return err
			}
			result.DeletedDirectories++
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		result.DeletedFiles++
	}
	return nil
}

// ContentCache stores extracted article bodies on disk, one file per URL.
type ContentCache struct {
	dir string
}

// NewContentCache creates a cache rooted at dir. The directory is created
// on first write.
func NewContentCache(dir string) *ContentCache {
	return &ContentCache{dir: dir}
}

// ContentCache returns the body cache inside the feed's cache directory.
func (nf *NewsFeed) ContentCache() *ContentCache {
	return NewContentCache(filepath.Join(nf.cacheDir, "content"))
}

func (c *ContentCache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".txt")
}

// Get returns the cached body for url.
func (c *ContentCache) Get(url string) (string, bool) {
	data, err := os.ReadFile(c.path(url))
	if err != nil || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// Put stores the body for url.
func (c *ContentCache) Put(url, content string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write through a temp file so readers never see a partial body
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path(url)); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
