package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLocalMaxEntries bounds the number of entries held by a LocalCache.
const DefaultLocalMaxEntries = 10000

type localEntry struct {
	entry
	ExpiresAt time.Time `json:"expires_at"`
}

// snapshot is the on-disk format of a LocalCache.
type snapshot struct {
	Version int                   `json:"version"`
	Entries map[string]localEntry `json:"entries"`
}

// LocalCache implements ResponseCache in process memory.
// This is suitable for single-instance deployments. When filePath is set the
// entries are loaded on Init and written back on Close.
type LocalCache struct {
	mu         sync.RWMutex
	entries    map[string]localEntry
	filePath   string
	maxEntries int
	now        func() time.Time
	loaded     bool
	closed     bool
}

// NewLocalCache creates a new local cache. filePath may be empty.
func NewLocalCache(filePath string) *LocalCache {
	return &LocalCache{
		entries:    make(map[string]localEntry),
		filePath:   filePath,
		maxEntries: DefaultLocalMaxEntries,
		now:        time.Now,
	}
}

// Init loads the snapshot file if one exists.
func (c *LocalCache) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded || c.filePath == "" {
		c.loaded = true
		return nil
	}

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = true
			return nil // No cache file yet, not an error
		}
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}

	now := c.now()
	for key, e := range snap.Entries {
		if now.Before(e.ExpiresAt) {
			c.entries[key] = e
		}
	}
	c.loaded = true
	slog.Info("local cache loaded", "path", c.filePath, "entries", len(c.entries))
	return nil
}

// Get returns the text stored under fingerprint if it has not expired.
func (c *LocalCache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	key := Key(fingerprint)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}

	if !c.now().Before(e.ExpiresAt) {
		c.mu.Lock()
		// Recheck: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return e.Text, true, nil
}

// Set stores text under fingerprint for ttl.
func (c *LocalCache) Set(ctx context.Context, fingerprint, text string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()
	key := Key(fingerprint)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = localEntry{
		entry:     entry{Text: text, WrittenAt: now.UTC()},
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

// evictLocked drops expired entries, then the entry closest to expiry if the
// cache is still full.
func (c *LocalCache) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.ExpiresAt.Before(oldest) {
			oldestKey, oldest = key, e.ExpiresAt
		}
	}
	delete(c.entries, oldestKey)
}

// Close writes unexpired entries to the snapshot file, if configured.
func (c *LocalCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.filePath == "" {
		return nil
	}

	now := c.now()
	snap := snapshot{Version: 1, Entries: make(map[string]localEntry, len(c.entries))}
	for key, e := range c.entries {
		if now.Before(e.ExpiresAt) {
			snap.Entries[key] = e
		}
	}
	return writeFileAtomic(c.filePath, snap)
}

func writeFileAtomic(path string, v any) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	// Write atomically using temp file + rename
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile) // Clean up temp file
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
