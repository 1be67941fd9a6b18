package engine

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/model"
	"github.com/teranos/nlu/pipeline"
)

// loadedModel is a model ready for prediction.
type loadedModel struct {
	model      *model.PredictableModel
	predictors *pipeline.Predictors
	size       int64
}

// modelCache is an LRU of loaded models bounded by their estimated size
// in bytes rather than by their count.
type modelCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU
	maxBytes int64
	used     int64
	log      *zap.SugaredLogger
}

func newModelCache(maxBytes int64, log *zap.SugaredLogger) (*modelCache, error) {
	c := &modelCache{maxBytes: maxBytes, log: log}
	lru, err := simplelru.NewLRU(math.MaxInt32, func(key, value interface{}) {
		c.used -= value.(*loadedModel).size
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create model cache")
	}
	c.lru = lru
	return c, nil
}

func (c *modelCache) get(id string) (*loadedModel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*loadedModel), true
}

func (c *modelCache) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(id)
}

// add inserts m and evicts the least recently used models until the
// cache fits. A model that alone exceeds the capacity is refused.
func (c *modelCache) add(id string, m *loadedModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.size > c.maxBytes {
		return errors.WithHint(
			errors.Mark(errors.Newf(
				"can't load model %s as it is bigger than the maximum allowed size (model size: %d bytes, max allowed: %d bytes); increase engine.model_cache_size",
				id, m.size, c.maxBytes), errors.ErrModelTooBig),
			"set engine.model_cache_size_mb in am.toml")
	}
	if c.lru.Contains(id) {
		c.lru.Remove(id)
	}
	c.lru.Add(id, m)
	c.used += m.size
	c.evict()
	return nil
}

func (c *modelCache) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

func (c *modelCache) resize(maxBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = maxBytes
	c.evict()
}

// evict must be called with mu held.
func (c *modelCache) evict() {
	for c.used > c.maxBytes {
		id, _, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.log.Infow("Model evicted from cache", logger.FieldModelID, id, "used_bytes", c.used, "max_bytes", c.maxBytes)
	}
}

// keys lists the cached model ids, least recently used first.
func (c *modelCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

func (c *modelCache) stats() (used, maxBytes int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used, c.maxBytes, c.lru.Len()
}

// estimateModelSize approximates the memory held by a loaded model: its
// serialized documents plus the decoded vectors and list entity caches.
func estimateModelSize(m model.Model, pm *model.PredictableModel) int64 {
	size := int64(len(m.Data.Input) + len(m.Data.Output))
	for token, vec := range pm.Output.Vocab {
		size += int64(len(token) + 8*len(vec))
	}
	for token := range pm.Output.Tfidf {
		size += int64(len(token) + 8)
	}
	for _, l := range pm.Output.ListEntities {
		for _, e := range l.Cache {
			size += int64(len(e.Key) + 64*len(e.Results))
		}
	}
	return size
}
