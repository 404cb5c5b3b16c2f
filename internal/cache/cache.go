// Package cache keeps introspected warehouse catalogs on disk between runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/schema"
)

// entry is the metadata stored next to each snapshot
type entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Tables    int       `json:"tables"`
}

// Stats counts cache traffic since creation
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Entries int   `json:"entries"`
}

// CatalogCache stores table descriptor snapshots as YAML catalog files
type CatalogCache struct {
	directory string
	ttl       time.Duration
	now       func() time.Time
	mu        sync.RWMutex
	stats     Stats
}

// Option configures a CatalogCache
type Option func(*CatalogCache)

// WithClock sets the clock used for expiry
func WithClock(now func() time.Time) Option {
	return func(c *CatalogCache) {
		c.now = now
	}
}

// New creates a cache rooted at directory
func New(directory string, ttl time.Duration, opts ...Option) (*CatalogCache, error) {
	directory = config.ExpandPath(directory)

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &CatalogCache{directory: directory, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Key identifies the catalog of one warehouse restricted to schemas
func Key(warehousePath string, schemas []string) string {
	sorted := make([]string, len(schemas))
	for i, s := range schemas {
		sorted[i] = strings.ToLower(strings.TrimSpace(s))
	}

	sort.Strings(sorted)

	return warehousePath + "|" + strings.Join(sorted, ",")
}

// Get returns the cached descriptors for key. A missing or expired snapshot is
// a miss, not an error.
func (c *CatalogCache) Get(ctx context.Context, key string) ([]schema.TableDescriptor, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.readMeta(key)
	if err != nil {
		c.stats.Misses++

		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	if !c.now().Before(meta.ExpiresAt) {
		c.stats.Misses++
		c.remove(key)

		return nil, false, nil
	}

	tables, err := schema.LoadCatalogFile(c.dataPath(key))
	if err != nil {
		c.stats.Misses++
		c.remove(key)

		return nil, false, fmt.Errorf("failed to read cached catalog: %w", err)
	}

	c.stats.Hits++

	return tables, true, nil
}

// Put stores tables under key
func (c *CatalogCache) Put(ctx context.Context, key string, tables []schema.TableDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ptrs := make([]*schema.TableDescriptor, len(tables))
	for i := range tables {
		ptrs[i] = &tables[i]
	}

	data, err := schema.MarshalCatalog(ptrs)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	now := c.now()

	meta, err := json.Marshal(entry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Tables:    len(tables),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.WriteFile(c.dataPath(key), data, 0644); err != nil {
		return fmt.Errorf("failed to write cached catalog: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), meta, 0644); err != nil {
		_ = os.Remove(c.dataPath(key))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	c.stats.Writes++

	return nil
}

// Invalidate drops the snapshot for key
func (c *CatalogCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
}

// Clear removes every snapshot
func (c *CatalogCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}

		if err := os.Remove(filepath.Join(c.directory, f.Name())); err != nil {
			return fmt.Errorf("failed to remove cache file: %w", err)
		}
	}

	return nil
}

// Cleanup removes expired snapshots and returns how many were removed
func (c *CatalogCache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(c.directory, "*.meta.json"))
	if err != nil {
		return 0, err
	}

	removed := 0
	now := c.now()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var meta entry
		if err := json.Unmarshal(data, &meta); err != nil || !now.Before(meta.ExpiresAt) {
			hash := strings.TrimSuffix(filepath.Base(path), ".meta.json")
			_ = os.Remove(path)
			_ = os.Remove(filepath.Join(c.directory, hash+".yaml"))
			removed++
		}
	}

	return removed, nil
}

// Stats returns the traffic counters and the number of stored snapshots
func (c *CatalogCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	if files, err := filepath.Glob(filepath.Join(c.directory, "*.meta.json")); err == nil {
		stats.Entries = len(files)
	}

	return stats
}

func (c *CatalogCache) readMeta(key string) (entry, error) {
	var meta entry

	data, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return meta, err
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse cache metadata: %w", err)
	}

	return meta, nil
}

func (c *CatalogCache) remove(key string) {
	_ = os.Remove(c.dataPath(key))
	_ = os.Remove(c.metaPath(key))
}

func (c *CatalogCache) dataPath(key string) string {
	return filepath.Join(c.directory, hashKey(key)+".yaml")
}

func (c *CatalogCache) metaPath(key string) string {
	return filepath.Join(c.directory, hashKey(key)+".meta.json")
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
