// Package tools declares the capabilities the engine consumes: language
// services, classical learners and system entity recognition. The engine
// never constructs implementations itself; they are injected.
package tools

import (
	"context"
	"math/rand"
)

// Tools is the capability bundle handed to training and prediction.
type Tools interface {
	// TokenizeUtterances splits utterances into tokens, whitespace included as space markers.
	TokenizeUtterances(ctx context.Context, utterances []string, languageCode string, vocab []string) ([][]string, error)
	// VectorizeTokens returns one embedding per token.
	VectorizeTokens(ctx context.Context, tokens []string, languageCode string) ([][]float64, error)
	// PartOfSpeechUtterances tags tokenized utterances. Unsupported languages yield "N/A" tags.
	PartOfSpeechUtterances(tokenized [][]string, languageCode string) [][]string
	// GenerateSimilarJunkWords produces out-of-vocabulary words that look like vocab.
	GenerateSimilarJunkWords(ctx context.Context, vocab []string, languageCode string) ([]string, error)
	GetStopWordsForLang(languageCode string) []string
	IsPOSAvailable(languageCode string) bool

	MLToolkit() MLToolkit
	// SystemEntityExtractor may return nil when no recognizer is configured.
	SystemEntityExtractor() SystemEntityExtractor

	// Seed is the default seed used when a training request carries none.
	Seed() int64

	GetHealth() Health
	GetLanguages() []string
	GetSpecifications() Specifications
}

// LanguageIdentifier is an optional capability of Tools implementations.
type LanguageIdentifier interface {
	IdentifyLanguage(ctx context.Context, text string) ([]LanguagePrediction, error)
}

// LanguagePrediction is one language guess.
type LanguagePrediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"value"`
}

// Health describes the language services backing the tools.
type Health struct {
	IsEnabled           bool     `json:"isEnabled"`
	ValidProvidersCount int      `json:"validProvidersCount"`
	ValidLanguages      []string `json:"validLanguages"`
}

// Specifications identifies everything a trained model depends on.
// Two models trained under equal specifications are interchangeable.
type Specifications struct {
	NLUVersion     string         `json:"nluVersion"`
	LanguageServer LanguageServer `json:"languageServer"`
}

// LanguageServer describes the embeddings in use.
type LanguageServer struct {
	Dimensions int    `json:"dimensions"`
	Domain     string `json:"domain"`
	Version    string `json:"version"`
}

// NewRand returns a deterministic random source for seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
