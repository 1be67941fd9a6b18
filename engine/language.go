package engine

import (
	"context"
	"strings"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// NALanguage is returned when no language could be told.
const NALanguage = "n/a"

const (
	shortTextLength      = 20
	shortTextConfidence  = 0.5
	longTextConfidence   = 0.3
	minVocabularyOverlap = 0.6
)

// DetectLanguage guesses the language of text among the languages of
// modelsByLang, a language to model id mapping whose models must all be
// loaded. The language identifier of the tools is asked first; when it is
// not confident enough, the language whose model vocabulary covers most
// of the words of text wins.
func (e *Engine) DetectLanguage(ctx context.Context, text string, modelsByLang map[string]string) (string, error) {
	vocabs := make(map[string]map[string][]float64, len(modelsByLang))
	var missing []string
	for _, lang := range util.SortedKeys(modelsByLang) {
		lm, ok := e.models.get(modelsByLang[lang])
		if !ok {
			missing = append(missing, lang)
			continue
		}
		vocabs[lang] = lm.predictors.Vocab
	}
	if len(missing) > 0 {
		return "", errors.Mark(errors.Newf("no models loaded for the following languages: [%s]", strings.Join(missing, ", ")), errors.ErrModelNotLoaded)
	}

	text = utterance.Preprocess(text)
	if identifier, ok := e.ectx.Tools.(tools.LanguageIdentifier); ok {
		if lang := e.identify(ctx, identifier, text, vocabs); lang != "" {
			return lang, nil
		}
	}

	words := textWords(text)
	if len(words) == 0 {
		return NALanguage, nil
	}
	best, bestScore := NALanguage, 0.0
	for _, lang := range util.SortedKeys(vocabs) {
		score := vocabularyOverlap(words, vocabs[lang])
		if score >= minVocabularyOverlap && score > bestScore {
			best, bestScore = lang, score
		}
	}
	return best, nil
}

func (e *Engine) identify(ctx context.Context, identifier tools.LanguageIdentifier, text string, vocabs map[string]map[string][]float64) string {
	predictions, err := identifier.IdentifyLanguage(ctx, text)
	if err != nil {
		e.log.Debugw("Language identification failed", logger.FieldError, err)
		return ""
	}
	threshold := longTextConfidence
	if utterance.RuneLen(text) <= shortTextLength {
		threshold = shortTextConfidence
	}
	var best tools.LanguagePrediction
	for _, p := range predictions {
		if _, ok := vocabs[p.Label]; !ok {
			continue
		}
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	if best.Confidence > threshold {
		return best.Label
	}
	return ""
}

// textWords splits text into lower-cased words, punctuation dropped.
func textWords(text string) []string {
	var words []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		w := strings.TrimFunc(f, func(r rune) bool { return !utterance.IsWord(string(r)) })
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func vocabularyOverlap(words []string, vocab map[string][]float64) float64 {
	known := 0
	for _, w := range words {
		if _, ok := vocab[w]; ok {
			known++
		}
	}
	return float64(known) / float64(len(words))
}
