// Package intents holds the context and intent classifiers of the cascade:
// an SVM over contexts, then per context an SVM over intents backed by an
// exact-match index and an out-of-scope detector.
package intents

import (
	"sort"

	"github.com/teranos/nlu/utterance"
)

// NoneIntent is the synthetic intent trained on junk and generic utterances.
const NoneIntent = "none"

// MinNbUtterances is the number of utterances an intent needs to be
// learned by an SVM.
const MinNbUtterances = 3

// SlotDefinition declares a slot and the entity types that can fill it.
type SlotDefinition struct {
	Name     string   `json:"name"`
	Entities []string `json:"entities"`
}

// Intent is an intent whose utterances went through preprocessing.
type Intent struct {
	Name            string                 `json:"name"`
	Contexts        []string               `json:"contexts"`
	SlotDefinitions []SlotDefinition       `json:"slot_definitions"`
	Utterances      []*utterance.Utterance `json:"-"`
}

// HasContext reports whether the intent belongs to ctx.
func (i *Intent) HasContext(ctx string) bool {
	for _, c := range i.Contexts {
		if c == ctx {
			return true
		}
	}
	return false
}

// SlotEntities returns the distinct entity types of every slot definition.
func (i *Intent) SlotEntities() []string {
	seen := map[string]struct{}{}
	for _, s := range i.SlotDefinitions {
		for _, e := range s.Entities {
			seen[e] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Prediction is one scored label of a classifier.
type Prediction struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Extractor  string  `json:"extractor"`
}

// Predictions is the output of an intent classifier: the in-scope intents
// and the probability that the utterance is out of scope.
type Predictions struct {
	Intents []Prediction `json:"intents"`
	OOS     float64      `json:"oos"`
}

// ContextUtterances returns the utterances of every intent of ctx.
func ContextUtterances(all []*Intent, ctx string) []*utterance.Utterance {
	var out []*utterance.Utterance
	for _, i := range all {
		if i.HasContext(ctx) {
			out = append(out, i.Utterances...)
		}
	}
	return out
}
