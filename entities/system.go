package entities

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/lang"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// SystemEntitiesCachePrefix names the system entity cache file.
const SystemEntitiesCachePrefix = "system_entities"

// DefaultSystemBatchSize is the number of inputs sent per recognizer call.
const DefaultSystemBatchSize = 50

// SystemCacheOptions configures a SystemEntityCache.
type SystemCacheOptions struct {
	Dir         string
	VersionHash string
	MaxEntries  int
	BatchSize   int
	Scheduler   lang.Scheduler
	FlushDelay  time.Duration
	Logger      *zap.SugaredLogger
}

// SystemEntityCache wraps a system entity recognizer with a persisted
// cache and batching. Cache keys are the lower-cased input per language.
type SystemEntityCache struct {
	extractor tools.SystemEntityExtractor
	cache     *lang.ManagedCache[[]utterance.EntityExtractionResult]
	batchSize int
	log       *zap.SugaredLogger
}

// NewSystemEntityCache restores the cache file of opts.VersionHash and
// removes the files of older versions.
func NewSystemEntityCache(extractor tools.SystemEntityExtractor, opts SystemCacheOptions) (*SystemEntityCache, error) {
	if extractor == nil {
		return nil, errors.New("system entity cache needs a recognizer")
	}
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("system-entities")
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultSystemBatchSize
	}
	cache, err := lang.NewManagedCache[[]utterance.EntityExtractionResult](lang.CacheOptions{
		Dir:         opts.Dir,
		Prefix:      SystemEntitiesCachePrefix,
		VersionHash: opts.VersionHash,
		MaxEntries:  opts.MaxEntries,
		Scheduler:   opts.Scheduler,
		FlushDelay:  opts.FlushDelay,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	cache.Init()
	return &SystemEntityCache{extractor: extractor, cache: cache, batchSize: opts.BatchSize, log: log}, nil
}

// systemCacheKey lower-cases input rune by rune, so a key has as many
// runes as the input and cached rune offsets fit every input sharing it.
func systemCacheKey(lang, input string) string {
	return lang + "_" + strings.Map(unicode.ToLower, input)
}

// fromCache copies cached results and takes their sources from input,
// which may differ in case from the input that filled the cache.
func fromCache(cached []utterance.EntityExtractionResult, input string) []utterance.EntityExtractionResult {
	runes := []rune(input)
	out := make([]utterance.EntityExtractionResult, len(cached))
	for i, r := range cached {
		if r.Start >= 0 && r.Start <= r.End && r.End <= len(runes) {
			r.Metadata.Source = string(runes[r.Start:r.End])
		}
		out[i] = r
	}
	return out
}

// Extract is ExtractMultiple for a single input.
func (s *SystemEntityCache) Extract(ctx context.Context, input, lang string, useCache bool) []utterance.EntityExtractionResult {
	return s.ExtractMultiple(ctx, []string{input}, lang, useCache)[0]
}

// ExtractMultiple returns the system entities of every input. Inputs
// missing from the cache go to the recognizer in batches. A recognizer
// failure is logged and yields no entities for the inputs it was asked
// about; it never fails the caller.
func (s *SystemEntityCache) ExtractMultiple(ctx context.Context, inputs []string, lang string, useCache bool) [][]utterance.EntityExtractionResult {
	out := make([][]utterance.EntityExtractionResult, len(inputs))
	var missIdx []int
	for i, input := range inputs {
		if useCache {
			if cached, ok := s.cache.Get(systemCacheKey(lang, input)); ok {
				out[i] = fromCache(cached, input)
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out
	}

	stored := false
	defer func() {
		if stored {
			s.cache.Persist()
		}
	}()

	for start := 0; start < len(missIdx); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]
		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = inputs[idx]
		}

		extracted, err := s.extractor.ExtractMultiple(ctx, texts, lang)
		if err == nil && len(extracted) != len(texts) {
			err = errors.Newf("recognizer returned %d results for %d inputs", len(extracted), len(texts))
		}
		if err != nil {
			s.log.Warnw("System entity extraction failed, continuing without system entities",
				logger.FieldLanguage, lang, logger.FieldCount, len(missIdx), logger.FieldError, err)
			return out
		}

		for i, idx := range batch {
			results := normalizeSystemEntities(extracted[i])
			out[idx] = results
			s.cache.Set(systemCacheKey(lang, inputs[idx]), results)
			stored = true
		}
	}
	return out
}

// Flush writes the cache file now.
func (s *SystemEntityCache) Flush() error {
	return s.cache.Dump()
}

func normalizeSystemEntities(found []tools.SystemEntity) []utterance.EntityExtractionResult {
	results := make([]utterance.EntityExtractionResult, 0, len(found))
	for _, e := range found {
		confidence := e.Confidence
		if confidence == 0 {
			confidence = 1
		}
		results = append(results, utterance.EntityExtractionResult{
			ExtractedEntity: utterance.ExtractedEntity{
				Type:       e.Type,
				Value:      e.Value,
				Confidence: confidence,
				Metadata: utterance.EntityMetadata{
					Extractor: utterance.ExtractorSystem,
					Source:    e.Source,
					EntityID:  "system." + e.Type,
					Unit:      e.Unit,
				},
			},
			Start: e.Start,
			End:   e.End,
		})
	}
	return results
}
