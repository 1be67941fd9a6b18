package entities

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/utterance"
)

// DefaultListCacheSize bounds a list entity cache when no size is configured.
const DefaultListCacheSize = 1000

// ListCache memoizes list entity extraction per utterance text.
type ListCache struct {
	lru *lru.Cache
}

// ListCacheEntry is one serialized cache entry.
type ListCacheEntry struct {
	Key     string                             `json:"key"`
	Results []utterance.EntityExtractionResult `json:"results"`
}

// NewListCache returns an empty cache holding up to size utterances.
func NewListCache(size int) (*ListCache, error) {
	if size <= 0 {
		size = DefaultListCacheSize
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create list entity cache")
	}
	return &ListCache{lru: l}, nil
}

func (c *ListCache) Get(key string) ([]utterance.EntityExtractionResult, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	cached := v.([]utterance.EntityExtractionResult)
	return append([]utterance.EntityExtractionResult(nil), cached...), true
}

func (c *ListCache) Set(key string, results []utterance.EntityExtractionResult) {
	c.lru.Add(key, append([]utterance.EntityExtractionResult(nil), results...))
}

func (c *ListCache) Len() int { return c.lru.Len() }

// Dump lists entries from least to most recently used.
func (c *ListCache) Dump() []ListCacheEntry {
	keys := c.lru.Keys()
	out := make([]ListCacheEntry, 0, len(keys))
	for _, k := range keys {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		out = append(out, ListCacheEntry{Key: k.(string), Results: v.([]utterance.EntityExtractionResult)})
	}
	return out
}

// Load adds entries in order, so a Dump restores with its recency.
func (c *ListCache) Load(entries []ListCacheEntry) {
	for _, e := range entries {
		c.lru.Add(e.Key, e.Results)
	}
}

// ColdListEntityModel is the serializable form of a ListEntityModel, its
// cache dumped alongside.
type ColdListEntityModel struct {
	ID             string                `json:"id"`
	EntityName     string                `json:"entityName"`
	FuzzyTolerance float64               `json:"fuzzyTolerance"`
	Sensitive      bool                  `json:"sensitive"`
	LanguageCode   string                `json:"languageCode"`
	MappingsTokens map[string][][]string `json:"mappingsTokens"`
	Cache          []ListCacheEntry      `json:"cache"`
}

// Cold returns m without its live cache.
func (m *ListEntityModel) Cold() ColdListEntityModel {
	cold := ColdListEntityModel{
		ID:             m.ID,
		EntityName:     m.EntityName,
		FuzzyTolerance: m.FuzzyTolerance,
		Sensitive:      m.Sensitive,
		LanguageCode:   m.LanguageCode,
		MappingsTokens: m.MappingsTokens,
	}
	if m.Cache != nil {
		cold.Cache = m.Cache.Dump()
	}
	return cold
}

// Warm rebuilds a ListEntityModel with a live cache of cacheSize entries.
func (c ColdListEntityModel) Warm(cacheSize int) (*ListEntityModel, error) {
	cache, err := NewListCache(cacheSize)
	if err != nil {
		return nil, err
	}
	cache.Load(c.Cache)
	return &ListEntityModel{
		ID:             c.ID,
		EntityName:     c.EntityName,
		FuzzyTolerance: c.FuzzyTolerance,
		Sensitive:      c.Sensitive,
		LanguageCode:   c.LanguageCode,
		MappingsTokens: c.MappingsTokens,
		Cache:          cache,
	}, nil
}

// Validate checks a deserialized list entity.
func (c ColdListEntityModel) Validate() error {
	if c.EntityName == "" {
		return errors.New("list entity has no name")
	}
	if c.FuzzyTolerance < 0 || c.FuzzyTolerance > 1 {
		return errors.Newf("list entity %s has fuzzy tolerance %v outside [0, 1]", c.EntityName, c.FuzzyTolerance)
	}
	for canonical, occurrences := range c.MappingsTokens {
		for _, occ := range occurrences {
			if len(occ) == 0 {
				return errors.Newf("list entity %s has an empty synonym for %q", c.EntityName, canonical)
			}
		}
	}
	return nil
}
