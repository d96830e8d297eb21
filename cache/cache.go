// Package cache is an on-disk LRU-ish cache of message bodies fetched from
// object storage. Files are stored under their content hash; a small sqlite
// index tracks sizes and access times so the purge loop can evict the
// longest-untouched entries when the cache grows past capacity.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

const dataDir = "data"
const indexDB = "cache_index.db"
const purgeBatchSize = 500

type Cache struct {
	basePath      string
	capacity      int64
	maxObjectSize int64
	db            *sql.DB
}

// New opens (or creates) a cache rooted at basePath.
func New(basePath string, capacity, maxObjectSize int64) (*Cache, error) {
	if basePath == "" {
		return nil, fmt.Errorf("cache base path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(basePath, dataDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache data path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, indexDB))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index DB: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("failed to set cache journal_mode=WAL", "error", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_index (
		content_hash TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		accessed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_accessed_at ON cache_index(accessed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{
		basePath:      basePath,
		capacity:      capacity,
		maxObjectSize: maxObjectSize,
		db:            db,
	}, nil
}

// Close closes the cache index database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// pathFor shards cache files two levels deep to keep directories small.
func (c *Cache) pathFor(contentHash string) string {
	if len(contentHash) < 4 {
		return filepath.Join(c.basePath, dataDir, contentHash)
	}
	return filepath.Join(c.basePath, dataDir, contentHash[:2], contentHash[2:4], contentHash)
}

// Get returns the cached body for a content hash, or os.ErrNotExist.
func (c *Cache) Get(contentHash string) ([]byte, error) {
	data, err := os.ReadFile(c.pathFor(contentHash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		} else {
			metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		}
		return nil, err
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	if _, err := c.db.Exec(`UPDATE cache_index SET accessed_at = ? WHERE content_hash = ?`,
		time.Now(), contentHash); err != nil {
		logger.Warn("failed to touch cache index entry", "hash", contentHash, "error", err)
	}
	return data, nil
}

// Put stores a body under its content hash. Bodies over the object size
// limit are silently skipped; the cache is an optimization, not a store.
func (c *Cache) Put(contentHash string, data []byte) error {
	if int64(len(data)) > c.maxObjectSize {
		return nil
	}

	path := c.pathFor(contentHash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache file: %w", err)
	}

	if _, err := c.db.Exec(`
		INSERT INTO cache_index (content_hash, size, accessed_at) VALUES (?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET accessed_at = excluded.accessed_at`,
		contentHash, len(data), time.Now()); err != nil {
		return fmt.Errorf("failed to index cache file: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("put", "success").Inc()
	return nil
}

// Delete removes a cached body. Deleting an absent entry is not an error.
func (c *Cache) Delete(contentHash string) error {
	if err := os.Remove(c.pathFor(contentHash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := c.db.Exec(`DELETE FROM cache_index WHERE content_hash = ?`, contentHash); err != nil {
		return fmt.Errorf("failed to remove cache index entry: %w", err)
	}
	return nil
}

// Stats returns the number of cached objects and their total size.
func (c *Cache) Stats() (objectCount, totalSize int64, err error) {
	err = c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM cache_index`).
		Scan(&objectCount, &totalSize)
	return
}

// Purge evicts least-recently-accessed entries until the cache fits within
// capacity. Called periodically from main.
func (c *Cache) Purge() error {
	for {
		_, totalSize, err := c.Stats()
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}
		if totalSize <= c.capacity {
			return nil
		}

		rows, err := c.db.Query(`
			SELECT content_hash FROM cache_index
			ORDER BY accessed_at ASC LIMIT ?`, purgeBatchSize)
		if err != nil {
			return fmt.Errorf("failed to select purge candidates: %w", err)
		}
		var victims []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan purge candidate: %w", err)
			}
			victims = append(victims, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(victims) == 0 {
			return nil
		}

		evicted := 0
		for _, h := range victims {
			if err := c.Delete(h); err != nil {
				logger.Warn("failed to evict cache entry", "hash", h, "error", err)
				continue
			}
			evicted++
		}
		// Failed victims would be reselected next pass; bail out rather
		// than loop on them forever.
		if evicted == 0 {
			return fmt.Errorf("cache purge made no progress, %d eviction(s) failed", len(victims))
		}
		logger.Debug("cache purge pass", "evicted", evicted)
	}
}
