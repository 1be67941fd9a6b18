package lang

import (
	"context"
	"strings"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/utterance"
)

const (
	vectorizeBatchSize = 100
	// request bodies are kept under this many bytes, assuming 4 bytes per char
	tokenizeMaxPayload = 150 * 1024
)

type vectorizeResponse struct {
	Vectors [][]float64 `json:"vectors"`
}

type tokenizeResponse struct {
	Tokens [][]string `json:"tokens"`
}

// Vectorize returns one vector per token. Space tokens get a zero vector
// and never reach the server; other tokens are looked up lower-cased.
func (p *Provider) Vectorize(ctx context.Context, tokens []string, lang string) ([][]float64, error) {
	vectors := make([][]float64, len(tokens))
	pending := map[string][]int{}
	var missing []string

	for i, tok := range tokens {
		if utterance.IsSpace(tok) {
			vectors[i] = util.Zeroes(p.dimensions)
			continue
		}
		key := vectorKey(lang, tok)
		if v, ok := p.vectors.Get(key); ok {
			vectors[i] = v
			continue
		}
		if _, ok := pending[key]; !ok {
			missing = append(missing, tok)
		}
		pending[key] = append(pending[key], i)
	}

	for start := 0; start < len(missing); start += vectorizeBatchSize {
		end := start + vectorizeBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		query := make([]string, len(batch))
		for i, tok := range batch {
			query[i] = strings.ToLower(tok)
		}

		var resp vectorizeResponse
		if err := p.query(ctx, lang, "/vectorize", map[string]any{"tokens": query}, &resp); err != nil {
			return nil, errors.Wrapf(err, "failed to vectorize %d tokens", len(batch))
		}
		if len(resp.Vectors) != len(batch) {
			return nil, errors.Newf("language server returned %d vectors for %d tokens", len(resp.Vectors), len(batch))
		}
		for i, tok := range batch {
			key := vectorKey(lang, tok)
			p.vectors.Set(key, resp.Vectors[i])
			for _, idx := range pending[key] {
				vectors[idx] = resp.Vectors[i]
			}
		}
	}

	if len(missing) > 0 {
		p.log.Debugw("Vectorized tokens", logger.FieldLanguage, lang, logger.FieldCount, len(missing))
		p.vectors.Persist()
	}
	return vectors, nil
}

func vectorKey(lang, token string) string {
	return lang + "_" + md5Hex(strings.ToLower(token))
}

// Tokenize splits utterances into tokens with space markers, merges
// fragments that together form a vocab word and gives every token the
// casing it had in the input.
func (p *Provider) Tokenize(ctx context.Context, utterances []string, lang string, vocab []string) ([][]string, error) {
	raw := make([][]string, len(utterances))
	pending := map[string][]int{}
	var missing []string

	for i, u := range utterances {
		key := lang + "_" + md5Hex(u)
		if toks, ok := p.tokens.Get(key); ok {
			raw[i] = toks
			continue
		}
		if _, ok := pending[key]; !ok {
			missing = append(missing, u)
		}
		pending[key] = append(pending[key], i)
	}

	for _, batch := range tokenizeBatches(missing) {
		query := make([]string, len(batch))
		for i, u := range batch {
			query[i] = strings.ToLower(u)
		}
		var resp tokenizeResponse
		if err := p.query(ctx, lang, "/tokenize", map[string]any{"utterances": query}, &resp); err != nil {
			return nil, errors.Wrapf(err, "failed to tokenize %d utterances", len(batch))
		}
		if len(resp.Tokens) != len(batch) {
			return nil, errors.Newf("language server returned %d token lists for %d utterances", len(resp.Tokens), len(batch))
		}
		for i, u := range batch {
			key := lang + "_" + md5Hex(u)
			p.tokens.Set(key, resp.Tokens[i])
			for _, idx := range pending[key] {
				raw[idx] = resp.Tokens[i]
			}
		}
	}
	if len(missing) > 0 {
		p.tokens.Persist()
	}

	vocabSet := make(map[string]bool, len(vocab))
	for _, w := range vocab {
		vocabSet[strings.ToLower(w)] = true
	}
	out := make([][]string, len(utterances))
	for i, toks := range raw {
		out[i] = restoreCasing(processTokens(toks, vocabSet), utterances[i])
	}
	return out, nil
}

func tokenizeBatches(utterances []string) [][]string {
	var batches [][]string
	var current []string
	size := 0
	for _, u := range utterances {
		n := len(u) * 4
		if len(current) > 0 && size+n >= tokenizeMaxPayload {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, u)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
