package lang

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/teranos/nlu/tools"
)

// StopWordIdentifier guesses the language of a text from the share of its
// words found in each bundled stop word list.
type StopWordIdentifier struct {
	languages []string
}

// NewStopWordIdentifier restricts guesses to languages; empty means every
// language with bundled stop words.
func NewStopWordIdentifier(languages ...string) *StopWordIdentifier {
	if len(languages) == 0 {
		languages = StopWordLanguages()
	}
	return &StopWordIdentifier{languages: languages}
}

var _ tools.LanguageIdentifier = (*StopWordIdentifier)(nil)

// IdentifyLanguage returns one prediction per language, best first.
// Confidences sum to 1 when at least one stop word matched.
func (id *StopWordIdentifier) IdentifyLanguage(ctx context.Context, text string) ([]tools.LanguagePrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return nil, nil
	}

	preds := make([]tools.LanguagePrediction, 0, len(id.languages))
	total := 0.0
	for _, l := range id.languages {
		list := StopWords(l)
		hits := 0
		for _, w := range words {
			i := sort.SearchStrings(list, w)
			if i < len(list) && list[i] == w {
				hits++
			}
		}
		score := float64(hits) / float64(len(words))
		total += score
		preds = append(preds, tools.LanguagePrediction{Label: l, Confidence: score})
	}
	if total > 0 {
		for i := range preds {
			preds[i].Confidence /= total
		}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Confidence > preds[j].Confidence })
	return preds, nil
}
