package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/sitetrust/sitetrust/internal/blocklist"
	"github.com/sitetrust/sitetrust/internal/logger"
)

const (
	defaultSize        = 64
	defaultTTL         = 10 * time.Minute
	defaultLoadTimeout = 30 * time.Second
)

// Config configures a ListCache.
type Config struct {
	Size int           // maximum number of cached lists
	TTL  time.Duration // entry lifetime
	// LoadTimeout bounds one shared source load. It is independent of the
	// callers' contexts since several callers may wait on the same load.
	LoadTimeout time.Duration
	Logger      *logger.Logger
}

// ListCache wraps a blocklist source and keeps parsed lists in memory.
// Concurrent loads of the same list are collapsed into one.
type ListCache struct {
	source      blocklist.Source
	lists       *expirable.LRU[string, []string]
	group       singleflight.Group
	loadTimeout time.Duration
	logger      *logger.Logger

	// gens and epoch change on Invalidate and Purge; a load that started
	// before the change does not populate the cache.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// NewListCache creates a cache in front of source.
func NewListCache(source blocklist.Source, cfg Config) *ListCache {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	loadTimeout := cfg.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = defaultLoadTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &ListCache{
		source:      source,
		lists:       expirable.NewLRU[string, []string](size, nil, ttl),
		loadTimeout: loadTimeout,
		logger:      log,
		gens:        make(map[string]uint64),
	}
}

// Names delegates to the underlying source. Enumeration is cheap and
// must reflect files added since the last call, so it is not cached.
func (c *ListCache) Names(ctx context.Context) ([]string, error) {
	return c.source.Names(ctx)
}

// Load returns the patterns of the named list, loading it on a miss.
// Returned slices are shared and must not be modified. Each caller waits
// for the shared load only as long as its own ctx allows.
func (c *ListCache) Load(ctx context.Context, name string) ([]string, error) {
	if patterns, ok := c.lists.Get(name); ok {
		return patterns, nil
	}

	ch := c.group.DoChan(name, func() (interface{}, error) {
		gen, epoch := c.generation(name)

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		patterns, err := c.source.Load(loadCtx, name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[name] == gen && c.epoch == epoch {
			c.lists.Add(name, patterns)
		}
		c.mu.Unlock()
		return patterns, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

func (c *ListCache) generation(name string) (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[name], c.epoch
}

// Invalidate drops a single list from the cache. A load already in
// flight is detached so later callers read the list again.
func (c *ListCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[name]++
	c.lists.Remove(name)
	c.group.Forget(name)
}

// Purge drops every cached list.
func (c *ListCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lists.Purge()
}

// Len returns the number of cached lists.
func (c *ListCache) Len() int {
	return c.lists.Len()
}

// Watch invalidates cached lists when files in dir change. It blocks until
// ctx is done or the watcher fails to start.
func (c *ListCache) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory: %w", err)
	}

	c.logger.Info("blocklist_watch_start", fmt.Sprintf("Watching %s for list changes", dir), nil)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, blocklist.ListExt) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.Invalidate(name)
			c.logger.Debug("blocklist_invalidated", "Blocklist changed on disk", map[string]interface{}{
				"list": name,
				"op":   event.Op.String(),
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("blocklist_watch_error", "Blocklist watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
