package lang

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

const (
	junkWordsCount = 500
	// vocabularies at least this similar share their junk words
	junkReuseSimilarity = 0.75
	junkMaxWordLength   = 20
	junkGramSize        = 3
)

// GenerateSimilarJunkWords produces words assembled from the character
// trigrams of vocab, with lengths around the vocab's mean length. A
// previously generated set is reused when its vocabulary is similar enough.
func (p *Provider) GenerateSimilarJunkWords(ctx context.Context, vocab []string, lang string) ([]string, error) {
	grams := vocabGrams(vocab)
	if len(grams) == 0 {
		return nil, nil
	}

	p.junkMu.Lock()
	defer p.junkMu.Unlock()

	var reused []string
	p.junk.Range(func(_ string, e junkEntry) bool {
		if util.SetSimilarity(grams, e.Grams) >= junkReuseSimilarity {
			reused = e.Words
			return false
		}
		return true
	})
	if reused != nil {
		p.log.Debugw("Reusing junk words", logger.FieldLanguage, lang, logger.FieldCount, len(reused))
		return reused, nil
	}

	words := generateJunkWords(vocab, grams, gramSeed(grams))
	// warms the vectors cache, the junk words are vectorized during training anyway
	if _, err := p.Vectorize(ctx, words, lang); err != nil {
		return nil, errors.Wrap(err, "failed to vectorize junk words")
	}

	p.junk.Set(md5Hex(strings.Join(grams, "\n")), junkEntry{Grams: grams, Words: words})
	p.junk.Persist()
	return words, nil
}

func vocabGrams(vocab []string) []string {
	seen := map[string]bool{}
	var grams []string
	for _, w := range vocab {
		w = strings.ToLower(w)
		if w == "" || utterance.HasSpace(w) {
			continue
		}
		for _, g := range util.Ngrams(w, junkGramSize) {
			if !seen[g] {
				seen[g] = true
				grams = append(grams, g)
			}
		}
	}
	sort.Strings(grams)
	return grams
}

func gramSeed(grams []string) int64 {
	sum := md5.Sum([]byte(strings.Join(grams, "\n")))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func generateJunkWords(vocab, grams []string, seed int64) []string {
	total := 0
	n := 0
	for _, w := range vocab {
		if w == "" || utterance.HasSpace(w) {
			continue
		}
		total += utterance.RuneLen(w)
		n++
	}
	mean := 1.0
	if n > 0 {
		mean = float64(total) / float64(n)
	}
	minLen := int(math.Max(1, math.Floor(mean/2)))
	maxLen := int(math.Min(junkMaxWordLength, math.Ceil(mean*1.5)))
	if maxLen < minLen {
		maxLen = minLen
	}

	rng := tools.NewRand(seed)
	words := make([]string, junkWordsCount)
	for i := range words {
		size := minLen + rng.Intn(maxLen-minLen+1)
		var b strings.Builder
		for utterance.RuneLen(b.String()) < size {
			b.WriteString(grams[rng.Intn(len(grams))])
		}
		words[i] = b.String()
	}
	return words
}
