package testing

import (
	"context"
	"crypto/md5"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/teranos/nlu/lang"
	"github.com/teranos/nlu/ml"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/version"
)

// FakeDimensions is the size of FakeTools vectors.
const FakeDimensions = 32

// FakeTools is a deterministic, offline tools.Tools. Tokens are runs of
// letters and digits, single punctuation marks and one space marker per
// blank. Vectors hash character trigrams so similar words get similar
// vectors.
type FakeTools struct {
	Languages   []string
	POS         bool
	System      tools.SystemEntityExtractor
	SeedValue   int64
	Toolkit     tools.MLToolkit
	TokenizeErr error

	tokenizeCalls  atomic.Int32
	vectorizeCalls atomic.Int32
}

// NewFakeTools returns fake tools serving en and fr with POS tagging.
func NewFakeTools() *FakeTools {
	return &FakeTools{
		Languages: []string{"en", "fr"},
		POS:       true,
		SeedValue: 42,
		Toolkit:   ml.NewToolkit(),
	}
}

var _ tools.Tools = (*FakeTools)(nil)

// TokenizeCalls counts TokenizeUtterances calls.
func (f *FakeTools) TokenizeCalls() int { return int(f.tokenizeCalls.Load()) }

// VectorizeCalls counts VectorizeTokens calls.
func (f *FakeTools) VectorizeCalls() int { return int(f.vectorizeCalls.Load()) }

func (f *FakeTools) TokenizeUtterances(ctx context.Context, utterances []string, _ string, _ []string) ([][]string, error) {
	f.tokenizeCalls.Add(1)
	if f.TokenizeErr != nil {
		return nil, f.TokenizeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]string, len(utterances))
	for i, u := range utterances {
		out[i] = Tokenize(u)
	}
	return out, nil
}

func (f *FakeTools) VectorizeTokens(ctx context.Context, tokens []string, _ string) ([][]float64, error) {
	f.vectorizeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(tokens))
	for i, t := range tokens {
		out[i] = Vectorize(t)
	}
	return out, nil
}

func (f *FakeTools) PartOfSpeechUtterances(tokenized [][]string, languageCode string) [][]string {
	if !f.POS {
		return lang.TagPOS(tokenized, "")
	}
	return lang.TagPOS(tokenized, languageCode)
}

// GenerateSimilarJunkWords rotates the letters of every vocab word.
func (f *FakeTools) GenerateSimilarJunkWords(_ context.Context, vocab []string, _ string) ([]string, error) {
	var junk []string
	for _, w := range vocab {
		r := []rune(strings.ToLower(w))
		if len(r) < 2 {
			continue
		}
		junk = append(junk, string(append(r[1:], r[0])), string(append([]rune{r[len(r)-1]}, r[:len(r)-1]...)))
	}
	return junk, nil
}

func (f *FakeTools) GetStopWordsForLang(languageCode string) []string {
	return lang.StopWords(languageCode)
}

func (f *FakeTools) IsPOSAvailable(languageCode string) bool {
	return f.POS && lang.IsPOSAvailable(languageCode)
}

func (f *FakeTools) MLToolkit() tools.MLToolkit { return f.Toolkit }

func (f *FakeTools) SystemEntityExtractor() tools.SystemEntityExtractor { return f.System }

func (f *FakeTools) Seed() int64 { return f.SeedValue }

func (f *FakeTools) GetHealth() tools.Health {
	return tools.Health{IsEnabled: true, ValidProvidersCount: 1, ValidLanguages: f.Languages}
}

func (f *FakeTools) GetLanguages() []string { return f.Languages }

func (f *FakeTools) GetSpecifications() tools.Specifications {
	return tools.Specifications{
		NLUVersion:     version.EngineVersion,
		LanguageServer: tools.LanguageServer{Dimensions: FakeDimensions, Domain: "test", Version: "1.0.0"},
	}
}

// Tokenize splits text the way FakeTools does.
func Tokenize(text string) []string {
	var out []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
			out = append(out, "▁")
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			word.WriteRune(r)
		default:
			flush()
			out = append(out, string(r))
		}
	}
	flush()
	return out
}

// Vectorize returns the FakeTools vector of token.
func Vectorize(token string) []float64 {
	v := make([]float64, FakeDimensions)
	if strings.TrimSpace(strings.ReplaceAll(token, "▁", " ")) == "" {
		return v
	}
	padded := []rune("#" + strings.ToLower(token) + "#")
	for i := 0; i+3 <= len(padded); i++ {
		sum := md5.Sum([]byte(string(padded[i : i+3])))
		v[int(sum[0])%FakeDimensions] += 1
		v[int(sum[1])%FakeDimensions] -= 0.5
	}
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}
