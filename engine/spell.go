package engine

import (
	"context"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/teranos/nlu/utterance"
)

const minSpellSimilarity = 0.8

// SpellCheck replaces the words of sentence unknown to the model id by
// the closest word of its vocabulary, when one is close enough.
func (e *Engine) SpellCheck(ctx context.Context, sentence, id string) (string, error) {
	lm, err := e.loaded(id)
	if err != nil {
		return "", err
	}
	vocab := lm.predictors.Vocab

	sentence = utterance.Preprocess(sentence)
	tokenized, err := e.ectx.Tools.TokenizeUtterances(ctx, []string{sentence}, lm.model.Input.LanguageCode, nil)
	if err != nil {
		return "", err
	}
	if len(tokenized) == 0 {
		return sentence, nil
	}

	candidates := make(map[rune][]string)
	for w := range vocab {
		if !utterance.IsWord(w) {
			continue
		}
		first := []rune(w)[0]
		candidates[first] = append(candidates[first], w)
	}

	var b strings.Builder
	for _, token := range tokenized[0] {
		b.WriteString(correctToken(token, vocab, candidates))
	}
	return utterance.ConvertToRealSpaces(b.String()), nil
}

func correctToken(token string, vocab map[string][]float64, candidates map[rune][]string) string {
	lower := strings.ToLower(token)
	if !utterance.IsWord(token) {
		return token
	}
	if _, ok := vocab[lower]; ok {
		return token
	}
	best, bestScore := "", 0.0
	for _, w := range candidates[[]rune(lower)[0]] {
		score := similarity(lower, w)
		if score >= minSpellSimilarity && (score > bestScore || (score == bestScore && w < best)) {
			best, bestScore = w, score
		}
	}
	if best == "" {
		return token
	}
	return best
}

func similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}
