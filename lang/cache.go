package lang

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
)

// CacheOptions configures a ManagedCache.
type CacheOptions struct {
	// Dir holds the cache file. Empty keeps the cache in memory only.
	Dir string
	// Prefix names the file: <Prefix>_<VersionHash>.json
	Prefix      string
	VersionHash string
	MaxEntries  int
	Scheduler   Scheduler
	FlushDelay  time.Duration
	Logger      *zap.SugaredLogger
}

// ManagedCache is an LRU cache mirrored to a JSON file. Writes are
// flushed through the Scheduler so a burst of Set calls costs one dump.
// Files written by another engine or language server version carry a
// different hash and are deleted by ClearOldFiles.
type ManagedCache[V any] struct {
	lru       *lru.Cache
	opts      CacheOptions
	log       *zap.SugaredLogger
	mu        sync.Mutex
	dumpBroke bool
}

type cacheEntry[V any] struct {
	Key   string `json:"k"`
	Value V      `json:"v"`
}

// NewManagedCache builds an empty cache. Call Init to load it from disk.
func NewManagedCache[V any](opts CacheOptions) (*ManagedCache[V], error) {
	if opts.MaxEntries <= 0 {
		return nil, errors.Newf("cache %q needs a positive size, got %d", opts.Prefix, opts.MaxEntries)
	}
	if opts.Scheduler == nil {
		opts.Scheduler = ImmediateScheduler{}
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = am.DefaultFlushDebounce * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Logger
	}
	l, err := lru.New(opts.MaxEntries)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache %q", opts.Prefix)
	}
	return &ManagedCache[V]{
		lru:  l,
		opts: opts,
		log:  log.With(logger.FieldComponent, "cache", logger.FieldFile, opts.Prefix),
	}, nil
}

// Init deletes stale files and restores the current one. Failures are
// logged; the cache starts empty.
func (c *ManagedCache[V]) Init() {
	if c.opts.Dir == "" {
		return
	}
	if err := c.ClearOldFiles(); err != nil {
		c.log.Warnw("Failed to clear stale cache files", logger.FieldError, err)
	}
	if err := c.Restore(); err != nil {
		c.log.Warnw("Failed to restore cache", logger.FieldError, err)
	}
}

// Path is the file backing the cache, or "" for memory-only caches.
func (c *ManagedCache[V]) Path() string {
	if c.opts.Dir == "" {
		return ""
	}
	return filepath.Join(c.opts.Dir, c.opts.Prefix+"_"+c.opts.VersionHash+".json")
}

func (c *ManagedCache[V]) Get(key string) (V, bool) {
	var zero V
	v, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	return v.(V), true
}

func (c *ManagedCache[V]) Has(key string) bool {
	return c.lru.Contains(key)
}

// Set stores value without scheduling a flush; call Persist after a batch.
func (c *ManagedCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

func (c *ManagedCache[V]) Len() int {
	return c.lru.Len()
}

// Range visits entries from least to most recently used without touching
// recency. Returning false stops the walk.
func (c *ManagedCache[V]) Range(fn func(key string, value V) bool) {
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if !fn(k.(string), v.(V)) {
			return
		}
	}
}

// Resize changes the capacity, evicting the oldest entries if needed.
func (c *ManagedCache[V]) Resize(size int) {
	if size > 0 {
		c.lru.Resize(size)
	}
}

func (c *ManagedCache[V]) Purge() {
	c.lru.Purge()
}

// Persist schedules a dump.
func (c *ManagedCache[V]) Persist() {
	path := c.Path()
	if path == "" {
		return
	}
	c.opts.Scheduler.Debounce(path, c.opts.FlushDelay, func() {
		if err := c.Dump(); err != nil {
			c.log.Errorw("Failed to dump cache, disabling further dumps", logger.FieldError, err)
		}
	})
}

// Dump writes the cache file now. After the first failure the cache stops
// trying, so a read-only cache dir does not spam the logs.
func (c *ManagedCache[V]) Dump() error {
	path := c.Path()
	if path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dumpBroke {
		return nil
	}

	entries := make([]cacheEntry[V], 0, c.lru.Len())
	c.Range(func(k string, v V) bool {
		entries = append(entries, cacheEntry[V]{Key: k, Value: v})
		return true
	})

	if err := c.write(path, entries); err != nil {
		c.dumpBroke = true
		return err
	}
	return nil
}

func (c *ManagedCache[V]) write(path string, entries []cacheEntry[V]) error {
	if err := os.MkdirAll(c.opts.Dir, am.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create cache dir %s", c.opts.Dir)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, am.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move %s into place", tmp)
	}
	return nil
}

// Restore loads the cache file. A missing file is not an error.
func (c *ManagedCache[V]) Restore() error {
	path := c.Path()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	var entries []cacheEntry[V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	for _, e := range entries {
		c.lru.Add(e.Key, e.Value)
	}
	c.log.Debugw("Restored cache", logger.FieldCount, len(entries))
	return nil
}

// ClearOldFiles removes files of this cache written under another version hash.
func (c *ManagedCache[V]) ClearOldFiles() error {
	if c.opts.Dir == "" {
		return nil
	}
	files, err := os.ReadDir(c.opts.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to list %s", c.opts.Dir)
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, c.opts.Prefix+"_") || strings.Contains(name, c.opts.VersionHash) {
			continue
		}
		if err := os.Remove(filepath.Join(c.opts.Dir, name)); err != nil {
			return errors.Wrapf(err, "failed to remove stale cache %s", name)
		}
		c.log.Infow("Removed stale cache file", logger.FieldFile, name)
	}
	return nil
}
