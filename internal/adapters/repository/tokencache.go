package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
)

// TokenCache is an in-memory token metadata cache persisted as a JSON side
// file mapping address -> {symbol, decimals}. It is loaded once at run start
// and saved at run end; concurrent processes sharing the file must serialize
// their runs.
type TokenCache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]TokenEntry
	dirty   bool
	logger  logger.Logger
}

var _ TokenStore = (*TokenCache)(nil)

// NewTokenCache creates an empty cache bound to path. An empty path gives a
// memory-only cache.
func NewTokenCache(path string, opts ...Option) *TokenCache {
	c := &TokenCache{
		path:    path,
		entries: make(map[string]TokenEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("token-cache")
	}
	return c
}

// Path returns the side file path.
func (c *TokenCache) Path() string { return c.path }

// Load merges the side file into the cache. A missing file is not an error.
func (c *TokenCache) Load(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read token cache: %w", err)
	}

	var file map[string]TokenEntry
	if err := json.Unmarshal(b, &file); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, e := range file {
		e.Address = addr
		c.put(e)
	}
	c.logger.Debug(ctx, "token cache loaded",
		logger.String("path", c.path),
		logger.Int("entries", len(c.entries)),
	)
	return nil
}

// Save writes the cache atomically via a temp file and rename. It is a no-op
// when nothing changed since the last load or save.
func (c *TokenCache) Save(ctx context.Context) error {
	if c.path == "" {
		return ErrNoPath
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	b, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token cache dir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	c.dirty = false

	c.logger.Debug(ctx, "token cache saved",
		logger.String("path", c.path),
		logger.Int("entries", len(c.entries)),
	)
	return nil
}

// Get returns the entry for address, matched case-insensitively.
func (c *TokenCache) Get(address string) (TokenEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[model.NormalizeAddress(address)]
	return e, ok
}

// Put adds entry unless the address is already cached.
func (c *TokenCache) Put(entry TokenEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.put(entry) {
		return false
	}
	c.dirty = true
	return true
}

func (c *TokenCache) put(entry TokenEntry) bool {
	key := model.NormalizeAddress(entry.Address)
	if key == "" {
		return false
	}
	if _, exists := c.entries[key]; exists {
		return false
	}
	entry.Address = key
	c.entries[key] = entry
	return true
}

// Len returns the number of cached entries.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
