package intents

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/utterance"
)

// ExactMatcherName is the extractor of exact-match predictions.
const ExactMatcherName = "exact-matcher"

// ExactMatchEntry is the intent a normalized training utterance belongs to.
type ExactMatchEntry struct {
	Intent   string   `json:"intent"`
	Contexts []string `json:"contexts"`
}

// ExactMatchIndex maps normalized utterances to their intent.
type ExactMatchIndex map[string]ExactMatchEntry

// ExactMatchKey normalizes utt: lower-cased words only, slot and entity
// values dropped, punctuation removed.
func ExactMatchKey(utt *utterance.Utterance) string {
	s := utt.String(utterance.StringOptions{
		LowerCase: true,
		OnlyWords: true,
		Slots:     utterance.SlotsIgnore,
		Entities:  utterance.EntitiesIgnore,
	})
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
}

// BuildExactMatchIndex indexes every utterance of every intent but none.
func BuildExactMatchIndex(intents []*Intent) ExactMatchIndex {
	idx := ExactMatchIndex{}
	for _, i := range intents {
		if i.Name == NoneIntent {
			continue
		}
		for _, u := range i.Utterances {
			key := ExactMatchKey(u)
			if key == "" {
				continue
			}
			idx[key] = ExactMatchEntry{Intent: i.Name, Contexts: i.Contexts}
		}
	}
	return idx
}

// Match returns the intent of utt when its normalized form was seen in
// training for context ctx.
func (idx ExactMatchIndex) Match(utt *utterance.Utterance, ctx string) (string, bool) {
	entry, ok := idx[ExactMatchKey(utt)]
	if !ok {
		return "", false
	}
	for _, c := range entry.Contexts {
		if c == ctx {
			return entry.Intent, true
		}
	}
	return "", false
}

// ForContext keeps the entries of ctx.
func (idx ExactMatchIndex) ForContext(ctx string) ExactMatchIndex {
	out := ExactMatchIndex{}
	for k, e := range idx {
		for _, c := range e.Contexts {
			if c == ctx {
				out[k] = e
				break
			}
		}
	}
	return out
}

func (idx ExactMatchIndex) Serialize() (string, error) {
	raw, err := json.Marshal(idx)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize exact match index")
	}
	return string(raw), nil
}

// LoadExactMatchIndex parses and validates a serialized index.
func LoadExactMatchIndex(serialized string) (ExactMatchIndex, error) {
	idx := ExactMatchIndex{}
	if serialized == "" {
		return idx, nil
	}
	if err := json.Unmarshal([]byte(serialized), &idx); err != nil {
		return nil, errors.NewModelLoadingError("exact matcher", err)
	}
	for key, e := range idx {
		if e.Intent == "" {
			return nil, errors.NewModelLoadingError("exact matcher", errors.Newf("entry %q has no intent", key))
		}
	}
	return idx, nil
}
