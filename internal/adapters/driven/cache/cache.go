// Package cache keeps per-store computed values (the inventory) in memory
// and, depending on the cache policy, in a persisted file named after the
// store's connection identity.
package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // file naming only
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// KeyInventory is the cache key for a store's inventory.
const KeyInventory = "inventory"

// Initializer computes a cache value. It must not modify the backend.
type Initializer func(ctx context.Context) (domain.Set, error)

// FileName returns "{sha1(user:password@url)[0:8]}.pik".
func FileName(user, password, url string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%s@%s", user, password, url))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8] + ".pik"
}

// Cache is a store's cache. Safe for concurrent use: concurrent first
// accesses to a key share one initializer call.
type Cache struct {
	policy domain.CachePolicy
	path   string
	log    *logger.Logger

	mu     sync.Mutex
	loaded bool
	items  map[string]domain.Set
	inits  map[string]Initializer
	gens   map[string]uint64
	group  singleflight.Group
}

// New creates a cache persisted at path. With CacheClearAndUse any existing
// file is removed here. An empty path disables persistence.
func New(path string, policy domain.CachePolicy, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Discard()
	}
	c := &Cache{
		policy: policy,
		path:   path,
		log:    log,
		items:  make(map[string]domain.Set),
		inits:  make(map[string]Initializer),
		gens:   make(map[string]uint64),
	}

	if path != "" && policy == domain.CacheClearAndUse {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("clear cache %s: %w", path, err)
		}
		log.Debug("Cleared cache %s", path)
	}

	return c, nil
}

// Register binds the initializer for key.
func (c *Cache) Register(key string, fn Initializer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits[key] = fn
}

// Path returns the persisted file path.
func (c *Cache) Path() string {
	return c.path
}

// Policy returns the cache policy.
func (c *Cache) Policy() domain.CachePolicy {
	return c.policy
}

// Get returns the value for key, loading the persisted file on first use
// and computing the value with its initializer if it is still missing.
// The initializer runs detached from the caller's cancellation since
// concurrent callers share its result.
func (c *Cache) Get(ctx context.Context, key string) (domain.Set, error) {
	c.mu.Lock()
	c.ensureLoaded()
	if v, ok := c.items[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	init, ok := c.inits[key]
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no initializer for cache key %q", domain.ErrUnsupportedOperation, key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.items[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		gen := c.gens[key]
		c.mu.Unlock()

		c.log.Debug("Initializing cache item %q", key)
		value, err := init(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if value == nil {
			value = domain.NewSet()
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[key] != gen {
			// Invalidated while computing: the value may predate the change.
			return value, nil
		}
		c.items[key] = value
		if err := c.save(); err != nil {
			c.log.Warn("Could not persist cache %s: %v", c.path, err)
		}
		return value, nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", key, err)
	}
	return v.(domain.Set), nil
}

// Invalidate drops key from memory and from the persisted file, so the
// next Get in this or any later process recomputes it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	c.gens[key]++
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	if err := c.save(); err != nil {
		c.log.Warn("Could not persist cache %s: %v", c.path, err)
	}
}

// ensureLoaded reads the persisted file once (caller must hold lock).
func (c *Cache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true
	if err := c.load(); err != nil {
		c.log.Warn("Ignoring unreadable cache %s: %v", c.path, err)
	}
}

// save writes the whole map atomically (caller must hold lock).
func (c *Cache) save() error {
	if !c.policy.Persistent() || c.path == "" {
		return nil
	}

	data, err := json.Marshal(c.items)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	c.log.Debug("Saved cache %s", c.path)
	return nil
}

// load reads the persisted file if the policy allows (caller must hold lock).
func (c *Cache) load() error {
	if !c.policy.Persistent() || c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var loaded map[string]domain.Set
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	for k, v := range loaded {
		c.items[k] = v
	}
	c.log.Debug("Loaded cache %s", c.path)
	return nil
}
