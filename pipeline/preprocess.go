package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// BuildUtterances cleans, tokenizes, vectorizes and POS-tags texts, then
// tags the slots written with `[value](slot)` markup. vocab helps the
// tokenizer keep known words whole.
func BuildUtterances(ctx context.Context, t tools.Tools, texts []string, languageCode string, vocab []string) ([]*utterance.Utterance, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	parsed := make([]utterance.Parsed, len(texts))
	clean := make([]string, len(texts))
	for i, text := range texts {
		parsed[i] = utterance.Parse(utterance.Preprocess(text))
		clean[i] = parsed[i].Utterance
	}

	tokenized, err := t.TokenizeUtterances(ctx, clean, languageCode, vocab)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to tokenize %d utterances", len(clean))
	}
	if len(tokenized) != len(clean) {
		return nil, errors.Newf("tokenizer returned %d results for %d utterances", len(tokenized), len(clean))
	}

	var distinct []string
	seen := map[string]int{}
	for _, toks := range tokenized {
		for _, tok := range toks {
			if _, ok := seen[tok]; !ok {
				seen[tok] = len(distinct)
				distinct = append(distinct, tok)
			}
		}
	}
	vectors, err := t.VectorizeTokens(ctx, distinct, languageCode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to vectorize %d tokens", len(distinct))
	}
	if len(vectors) != len(distinct) {
		return nil, errors.Newf("vectorizer returned %d vectors for %d tokens", len(vectors), len(distinct))
	}

	pos := t.PartOfSpeechUtterances(tokenized, languageCode)

	out := make([]*utterance.Utterance, len(tokenized))
	for i, toks := range tokenized {
		vecs := make([][]float64, len(toks))
		for j, tok := range toks {
			vecs[j] = vectors[seen[tok]]
		}
		var tags []string
		if i < len(pos) {
			tags = pos[i]
		}
		u, err := utterance.New(toks, vecs, tags, languageCode)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build utterance %d", i)
		}
		for _, s := range parsed[i].ParsedSlots {
			slot := utterance.ExtractedSlot{Name: s.Name, Source: s.Value, Value: s.Value, Confidence: 1}
			if err := u.TagSlot(slot, s.CleanPosition.Start, s.CleanPosition.End); err != nil {
				return nil, errors.Wrapf(err, "failed to tag slot %s", s.Name)
			}
		}
		out[i] = u
	}
	return out, nil
}

// ListEntityID is the entity id of a list entity named name.
func ListEntityID(name string) string {
	return "custom.list." + name
}

// makeListEntityModel tokenizes every synonym. The canonical value is a
// synonym of itself.
func makeListEntityModel(ctx context.Context, t tools.Tools, def ListEntityDefinition, languageCode string, cacheSize int) (*entities.ListEntityModel, error) {
	canonicals := util.SortedKeys(def.Synonyms)
	var values []string
	for _, canonical := range canonicals {
		values = append(values, canonical)
		values = append(values, def.Synonyms[canonical]...)
	}
	values = util.Uniq(values)

	tokenized, err := t.TokenizeUtterances(ctx, values, languageCode, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to tokenize list entity %s", def.Name)
	}
	if len(tokenized) != len(values) {
		return nil, errors.Newf("tokenizer returned %d results for %d synonyms of %s", len(tokenized), len(values), def.Name)
	}
	tokensOf := make(map[string][]string, len(values))
	for i, v := range values {
		toks := make([]string, len(tokenized[i]))
		for j, tok := range tokenized[i] {
			toks[j] = utterance.ConvertToRealSpaces(tok)
		}
		tokensOf[v] = toks
	}

	mappings := make(map[string][][]string, len(canonicals))
	for _, canonical := range canonicals {
		for _, syn := range append(append([]string{}, def.Synonyms[canonical]...), canonical) {
			if toks := tokensOf[syn]; len(toks) > 0 {
				mappings[canonical] = append(mappings[canonical], toks)
			}
		}
	}

	cold := entities.ColdListEntityModel{
		ID:             ListEntityID(def.Name),
		EntityName:     def.Name,
		FuzzyTolerance: def.FuzzyTolerance,
		Sensitive:      def.Sensitive,
		LanguageCode:   languageCode,
		MappingsTokens: mappings,
		Cache:          def.Cache,
	}
	return cold.Warm(cacheSize)
}

// vocabVectors maps every lower-cased token to its vector.
func vocabVectors(all []*intents.Intent) map[string][]float64 {
	out := map[string][]float64{}
	for _, intent := range all {
		for _, u := range intent.Utterances {
			for _, tok := range u.Tokens() {
				out[tok.String(utterance.TokenStringOptions{LowerCase: true})] = tok.Vector
			}
		}
	}
	return out
}

func customEntityNames(lists []*entities.ListEntityModel, patterns []entities.PatternEntity) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l.EntityName)
	}
	for _, p := range patterns {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return util.Uniq(out)
}

func lowerWords(u *utterance.Utterance) []string {
	var out []string
	for _, tok := range u.Tokens() {
		if tok.IsWord {
			out = append(out, strings.ToLower(tok.String()))
		}
	}
	return out
}
