package intents

import (
	"github.com/teranos/nlu/utterance"
)

// Featurize is the sentence embedding of utt followed by the number of
// tagged entities of each custom entity type. The embedding is padded or cut
// to dims so empty utterances still produce a valid point.
func Featurize(utt *utterance.Utterance, dims int, customEntities []string) []float64 {
	feats := make([]float64, dims+len(customEntities))
	copy(feats[:dims], utt.SentenceEmbedding())

	entities := utt.Entities()
	for i, name := range customEntities {
		n := 0
		for _, e := range entities {
			if e.Type == name {
				n++
			}
		}
		feats[dims+i] = float64(n)
	}
	return feats
}

// embeddingDims is the vector size of the first utterance that has tokens.
func embeddingDims(utts []*utterance.Utterance) int {
	for _, u := range utts {
		if toks := u.Tokens(); len(toks) > 0 && len(toks[0].Vector) > 0 {
			return len(toks[0].Vector)
		}
	}
	return 0
}
