// Package pipeline turns training definitions into models and runs
// predictions against loaded models.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/tools"
)

// DefaultContext is predicted when a model knows no context.
const DefaultContext = "global"

// IntentDefinition is an intent as written by users, utterances in one
// language with optional `[value](slot)` markup.
type IntentDefinition struct {
	Name            string                   `json:"name" yaml:"name"`
	Contexts        []string                 `json:"contexts" yaml:"contexts"`
	SlotDefinitions []intents.SlotDefinition `json:"slot_definitions" yaml:"slots"`
	Utterances      []string                 `json:"utterances" yaml:"utterances"`
}

// ListEntityDefinition maps canonical values to their synonyms. Cache
// carries the extraction cache of a previous training.
type ListEntityDefinition struct {
	Name           string                    `json:"name" yaml:"name"`
	FuzzyTolerance float64                   `json:"fuzzyTolerance" yaml:"fuzzy"`
	Sensitive      bool                      `json:"sensitive" yaml:"sensitive"`
	Synonyms       map[string][]string       `json:"synonyms" yaml:"values"`
	Cache          []entities.ListCacheEntry `json:"cache,omitempty" yaml:"-"`
}

// TrainInput is everything a training run depends on.
type TrainInput struct {
	TrainID         string                   `json:"trainId"`
	LanguageCode    string                   `json:"languageCode"`
	Seed            int64                    `json:"seed"`
	Intents         []IntentDefinition       `json:"intents"`
	ListEntities    []ListEntityDefinition   `json:"list_entities"`
	PatternEntities []entities.PatternEntity `json:"pattern_entities"`
	Contexts        []string                 `json:"contexts"`
	// CtxToTrain lists the contexts whose intent classifier is trained.
	CtxToTrain []string `json:"ctxToTrain"`
}

// TrainOutput holds the serialized artifacts of a training run.
type TrainOutput struct {
	ListEntities      []entities.ColdListEntityModel `json:"list_entities"`
	Tfidf             map[string]float64             `json:"tfidf"`
	Vocab             map[string][]float64           `json:"vocab"`
	Kmeans            *tools.KMeansModel             `json:"kmeans,omitempty"`
	Contexts          []string                       `json:"contexts"`
	CtxModel          string                         `json:"ctx_model"`
	IntentModelByCtx  map[string]string              `json:"intent_model_by_ctx"`
	SlotModelByIntent map[string]string              `json:"slots_model_by_intent"`
}

// Env is what a pipeline run needs besides its input.
type Env struct {
	Tools tools.Tools
	// SystemEntities wraps the system entity recognizer of Tools. When nil,
	// a memory-only cache is built around Tools.SystemEntityExtractor().
	SystemEntities *entities.SystemEntityCache
	// ListCacheSize bounds the extraction cache of each list entity.
	ListCacheSize int
	Logger        *zap.SugaredLogger
}
