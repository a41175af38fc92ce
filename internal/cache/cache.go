package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"go.uber.org/zap"
)

const (
	cacheFileName = "verify_cache.gob"
	DefaultMaxAge = 24 * time.Hour
)

type Entry struct {
	Result       backend.Result
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Cache remembers verification results per backend and program content.
type Cache struct {
	Dir     string
	entries map[string]Entry
	mutex   sync.RWMutex
	maxAge  time.Duration
}

// New opens the cache stored in dir. A cache file that cannot be decoded is
// discarded with a warning; the cache then starts empty.
func New(dir string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		Dir:     dir,
		entries: make(map[string]Entry),
		maxAge:  DefaultMaxAge,
	}

	if err := c.load(); err != nil {
		logger.Warn("Discarding unreadable cache", zap.String("dir", dir), zap.Error(err))
		c.entries = make(map[string]Entry)
	}

	return c, nil
}

func key(backendName string, prog backend.Program) string {
	return backendName + ":" + prog.Hash()
}

func (c *Cache) load() error {
	file, err := os.Open(filepath.Join(c.Dir, cacheFileName))
	if os.IsNotExist(err) {
		return nil // first run
	}
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&c.entries); err != nil {
		return fmt.Errorf("failed to decode cache file: %w", err)
	}
	return nil
}

func (c *Cache) save() error {
	file, err := os.Create(filepath.Join(c.Dir, cacheFileName))
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(c.entries); err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}
	return nil
}

func (c *Cache) Set(backendName string, prog backend.Program, res backend.Result) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	c.entries[key(backendName, prog)] = Entry{
		Result:       res,
		CreatedAt:    now,
		LastAccessed: now,
	}
	return c.save()
}

// Get returns the cached result for prog. The stored program name is
// replaced by prog.Name, since identical text may come from different files.
func (c *Cache) Get(backendName string, prog backend.Program) (backend.Result, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	k := key(backendName, prog)
	entry, exists := c.entries[k]
	if !exists {
		return backend.Result{}, false
	}

	if time.Since(entry.CreatedAt) > c.maxAge {
		delete(c.entries, k)
		return backend.Result{}, false
	}

	entry.LastAccessed = time.Now()
	c.entries[k] = entry

	res := entry.Result
	res.Program = prog.Name
	return res, true
}

func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *Cache) SetMaxAge(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.maxAge = d
}

func (c *Cache) InvalidateAll() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]Entry)
	_ = c.save() // manual operation, nothing to report to
}
