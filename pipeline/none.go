package pipeline

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

const (
	minNoneUtterances = 20
	maxNoneUtterances = 200
	// spaceRatio of space tokens above which a language joins words with blanks.
	spaceRatio = 0.3
)

// noneTexts writes the raw sentences of the none intent. They mix stop
// words, low tf-idf vocabulary and junk words so the classifiers learn what
// in-domain sentences do not look like.
func noneTexts(all []*utterance.Utterance, junkWords, stopWords []string, rng *rand.Rand) []string {
	if len(all) == 0 {
		return nil
	}

	var (
		nbTokens  int
		nbSpaces  int
		vocabSeen = map[string]struct{}{}
		vocab     []string
	)
	for _, u := range all {
		for _, tok := range u.Tokens() {
			nbTokens++
			if tok.IsSpace {
				nbSpaces++
				continue
			}
			if tok.Tfidf() <= SmallTfidf {
				w := tok.String(utterance.TokenStringOptions{LowerCase: true})
				if _, ok := vocabSeen[w]; !ok {
					vocabSeen[w] = struct{}{}
					vocab = append(vocab, w)
				}
			}
		}
	}
	sort.Strings(vocab)

	avgTokens := float64(nbTokens) / float64(len(all))
	nbNone := int(math.Ceil(util.Clamp(float64(len(all))*2/3, minNoneUtterances, maxNoneUtterances)))

	joinChar := ""
	if float64(nbSpaces) >= float64(nbTokens)*spaceRatio {
		joinChar = " "
	}

	nbWords := func() int {
		hi := avgTokens * 2
		if hi < 1 {
			hi = 1
		}
		return int(math.Round(1 + rng.Float64()*(hi-1)))
	}
	sentences := func(pool []string) []string {
		var out []string
		for i := 0; i < nbNone; i++ {
			if s := strings.Join(sample(rng, pool, nbWords()), joinChar); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	mixed := sentences(append(append([]string{}, junkWords...), stopWords...))
	fromVocab := sentences(util.Uniq(append(append([]string{}, stopWords...), vocab...)))
	junk := sentences(junkWords)

	out := make([]string, 0, len(mixed)+len(fromVocab)+len(junk)+len(stopWords))
	out = append(out, mixed...)
	out = append(out, fromVocab...)
	out = append(out, junk...)
	return append(out, stopWords...)
}

// sample picks up to n distinct positions of pool.
func sample(rng *rand.Rand, pool []string, n int) []string {
	if n > len(pool) {
		n = len(pool)
	}
	perm := rng.Perm(len(pool))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

// makeNoneIntent builds the synthetic none intent from the utterances of
// every intent.
func makeNoneIntent(ctx context.Context, t tools.Tools, all []*utterance.Utterance, languageCode string, seed int64) (*intents.Intent, error) {
	none := &intents.Intent{Name: intents.NoneIntent, Contexts: []string{}}
	if len(all) == 0 {
		return none, nil
	}

	var vocab []string
	seen := map[string]struct{}{}
	for _, u := range all {
		for _, tok := range u.Tokens() {
			if tok.IsSpace {
				continue
			}
			w := tok.String(utterance.TokenStringOptions{LowerCase: true})
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				vocab = append(vocab, w)
			}
		}
	}

	junk, err := t.GenerateSimilarJunkWords(ctx, vocab, languageCode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate junk words")
	}
	stopWords := t.GetStopWordsForLang(languageCode)

	texts := noneTexts(all, junk, stopWords, tools.NewRand(seed))
	utts, err := BuildUtterances(ctx, t, texts, languageCode, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build none utterances")
	}
	none.Utterances = utts
	return none, nil
}
