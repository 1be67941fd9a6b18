package lang

import (
	"context"

	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/version"
)

// RemoteTools implements tools.Tools on top of a Provider. Learners and
// the system entity recognizer are injected.
type RemoteTools struct {
	provider   *Provider
	toolkit    tools.MLToolkit
	system     tools.SystemEntityExtractor
	identifier *StopWordIdentifier
	seed       int64
}

// NewRemoteTools bundles p with the given learners. system may be nil.
func NewRemoteTools(p *Provider, toolkit tools.MLToolkit, system tools.SystemEntityExtractor, seed int64) *RemoteTools {
	return &RemoteTools{
		provider:   p,
		toolkit:    toolkit,
		system:     system,
		identifier: NewStopWordIdentifier(),
		seed:       seed,
	}
}

var (
	_ tools.Tools              = (*RemoteTools)(nil)
	_ tools.LanguageIdentifier = (*RemoteTools)(nil)
)

func (t *RemoteTools) Provider() *Provider { return t.provider }

func (t *RemoteTools) TokenizeUtterances(ctx context.Context, utterances []string, lang string, vocab []string) ([][]string, error) {
	return t.provider.Tokenize(ctx, utterances, lang, vocab)
}

func (t *RemoteTools) VectorizeTokens(ctx context.Context, tokens []string, lang string) ([][]float64, error) {
	return t.provider.Vectorize(ctx, tokens, lang)
}

func (t *RemoteTools) PartOfSpeechUtterances(tokenized [][]string, lang string) [][]string {
	return TagPOS(tokenized, lang)
}

func (t *RemoteTools) GenerateSimilarJunkWords(ctx context.Context, vocab []string, lang string) ([]string, error) {
	return t.provider.GenerateSimilarJunkWords(ctx, vocab, lang)
}

func (t *RemoteTools) GetStopWordsForLang(lang string) []string {
	return StopWords(lang)
}

func (t *RemoteTools) IsPOSAvailable(lang string) bool {
	return IsPOSAvailable(lang)
}

func (t *RemoteTools) MLToolkit() tools.MLToolkit { return t.toolkit }

func (t *RemoteTools) SystemEntityExtractor() tools.SystemEntityExtractor { return t.system }

func (t *RemoteTools) Seed() int64 { return t.seed }

func (t *RemoteTools) GetHealth() tools.Health { return t.provider.Health() }

func (t *RemoteTools) GetLanguages() []string { return t.provider.Languages() }

func (t *RemoteTools) GetSpecifications() tools.Specifications {
	return tools.Specifications{
		NLUVersion: version.EngineVersion,
		LanguageServer: tools.LanguageServer{
			Dimensions: t.provider.Dimensions(),
			Domain:     t.provider.Domain(),
			Version:    t.provider.ServerVersion(),
		},
	}
}

func (t *RemoteTools) IdentifyLanguage(ctx context.Context, text string) ([]tools.LanguagePrediction, error) {
	return t.identifier.IdentifyLanguage(ctx, text)
}
