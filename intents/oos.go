package intents

import (
	"math"
	"strings"

	"github.com/teranos/nlu/utterance"
)

// OOSLabel prefixes the labels of out-of-scope training points.
const OOSLabel = "out"

// OOSFeatures describes utt for the out-of-scope detector: its sentence
// embedding, its length in words and the share of its words never seen in
// training.
func OOSFeatures(utt *utterance.Utterance, dims int, vocab map[string]struct{}) []float64 {
	feats := make([]float64, dims+2)
	copy(feats[:dims], utt.SentenceEmbedding())

	words, unknown := 0, 0
	for _, t := range utt.Tokens() {
		if !t.IsWord {
			continue
		}
		words++
		if _, ok := vocab[strings.ToLower(t.Value)]; !ok {
			unknown++
		}
	}
	feats[dims] = math.Min(1, float64(words)/10)
	if words > 0 {
		feats[dims+1] = float64(unknown) / float64(words)
	}
	return feats
}

// Vocabulary returns the distinct lower-cased tokens of utts.
func Vocabulary(utts []*utterance.Utterance) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, u := range utts {
		for _, t := range u.Tokens() {
			w := t.String(utterance.TokenStringOptions{LowerCase: true})
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func vocabSet(vocab []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vocab))
	for _, w := range vocab {
		set[w] = struct{}{}
	}
	return set
}

// Renormalize folds the none intent into the out-of-scope probability and
// rescales the remaining intents so that oos and the intents sum to 1.
// When no intent keeps any confidence the utterance is out of scope.
func Renormalize(preds Predictions) Predictions {
	oos := preds.OOS
	var kept []Prediction
	for _, p := range preds.Intents {
		if p.Name == NoneIntent {
			oos += p.Confidence
			continue
		}
		kept = append(kept, p)
	}
	oos = math.Min(1, oos)

	total := 0.0
	for _, p := range kept {
		total += p.Confidence
	}
	if total == 0 {
		oos = 1
	}
	out := Predictions{Intents: make([]Prediction, len(kept)), OOS: oos}
	for i, p := range kept {
		if total > 0 {
			p.Confidence = p.Confidence / total * (1 - oos)
		}
		out.Intents[i] = p
	}
	return out
}
