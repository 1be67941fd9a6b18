// Package utterance holds the tokenized, vectorized and annotated form of a
// sentence shared by every training and prediction stage.
package utterance

import (
	"math"
	"strings"
	"sync"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
)

// Nearester assigns points to their closest cluster.
type Nearester interface {
	Nearest(points [][]float64) []int
}

// SlotsOption tells String how to render slot tokens.
type SlotsOption string

// EntitiesOption tells String how to render entity tokens.
type EntitiesOption string

const (
	SlotsKeepValue SlotsOption = "keep-value"
	SlotsKeepName  SlotsOption = "keep-name"
	SlotsIgnore    SlotsOption = "ignore"

	EntitiesKeepDefault EntitiesOption = "keep-default"
	EntitiesKeepValue   EntitiesOption = "keep-value"
	EntitiesKeepName    EntitiesOption = "keep-name"
	EntitiesIgnore      EntitiesOption = "ignore"
)

// StringOptions controls Utterance.String. Zero values mean keep-value for
// slots and keep-default for entities.
type StringOptions struct {
	LowerCase bool
	OnlyWords bool
	Slots     SlotsOption
	Entities  EntitiesOption
}

// Utterance is an immutable token sequence with growable entity and slot tags.
type Utterance struct {
	LanguageCode string

	tokens   []Token
	slots    []Slot
	entities []Entity

	mu          sync.RWMutex
	globalTfidf map[string]float64
	kmeans      Nearester

	embeddingMu sync.Mutex
	embedding   []float64
}

// New builds an utterance. tokens, vectors and posTags must have the same length.
func New(tokens []string, vectors [][]float64, posTags []string, languageCode string) (*Utterance, error) {
	if len(tokens) != len(vectors) || len(tokens) != len(posTags) {
		return nil, errors.Newf("tokens, vectors and POS tags dimensions must match (got %d, %d, %d)",
			len(tokens), len(vectors), len(posTags))
	}

	u := &Utterance{LanguageCode: languageCode}
	u.tokens = make([]Token, len(tokens))
	offset := 0
	for i, value := range tokens {
		u.tokens[i] = Token{
			Index:   i,
			Value:   value,
			Offset:  offset,
			IsWord:  IsWord(value),
			IsSpace: IsSpace(value),
			IsBOS:   i == 0,
			IsEOS:   i == len(tokens)-1,
			POS:     posTags[i],
			Vector:  vectors[i],
			utt:     u,
		}
		offset += RuneLen(value)
	}
	return u, nil
}

// Tokens returns the utterance tokens. The slice must not be modified.
func (u *Utterance) Tokens() []Token {
	return u.tokens
}

// Slots returns the tagged slots.
func (u *Utterance) Slots() []Slot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.slots
}

// Entities returns the tagged entities.
func (u *Utterance) Entities() []Entity {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.entities
}

// SetGlobalTfidf attaches the tf-idf table. Keys are lower-cased.
func (u *Utterance) SetGlobalTfidf(tfidf map[string]float64) {
	lowered := make(map[string]float64, len(tfidf))
	for k, v := range tfidf {
		lowered[strings.ToLower(k)] = v
	}
	u.mu.Lock()
	u.globalTfidf = lowered
	u.mu.Unlock()

	u.embeddingMu.Lock()
	u.embedding = nil
	u.embeddingMu.Unlock()
}

// SetKmeans attaches the clustering used by Token.Cluster.
func (u *Utterance) SetKmeans(k Nearester) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.kmeans = k
}

func (u *Utterance) tfidfOf(lowered string) float64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if v, ok := u.globalTfidf[lowered]; ok && v != 0 {
		return v
	}
	return 1
}

func (u *Utterance) clusterOf(idx int) int {
	u.mu.RLock()
	k := u.kmeans
	u.mu.RUnlock()
	if k == nil {
		return 1
	}
	nearest := k.Nearest([][]float64{u.tokens[idx].Vector})
	if len(nearest) == 0 {
		return 1
	}
	return nearest[0]
}

// SentenceEmbedding is the tf-idf weighted mean of the normalized word
// vectors. Non-word tokens and zero vectors are skipped. The result is memoized.
func (u *Utterance) SentenceEmbedding() []float64 {
	u.embeddingMu.Lock()
	defer u.embeddingMu.Unlock()

	if u.embedding != nil {
		return u.embedding
	}
	if len(u.tokens) == 0 {
		return nil
	}

	dims := len(u.tokens[0].Vector)
	sum := util.Zeroes(dims)
	totalWeight := 0.0
	for _, tok := range u.tokens {
		norm := util.Norm(tok.Vector)
		if norm <= 0 || !tok.IsWord || len(tok.Vector) != dims {
			continue
		}
		weight := math.Min(1, tok.Tfidf())
		totalWeight += weight
		sum = util.VectorAdd(sum, util.ScalarMultiply(tok.Vector, weight/norm))
	}

	u.embedding = util.ScalarDivide(sum, totalWeight)
	return u.embedding
}

// String renders the utterance according to opts.
func (u *Utterance) String(opts ...StringOptions) string {
	var o StringOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Slots == "" {
		o.Slots = SlotsKeepValue
	}
	if o.Entities == "" {
		o.Entities = EntitiesKeepDefault
	}

	var b strings.Builder
	for _, tok := range u.tokens {
		slots := tok.Slots()
		entities := tok.Entities()
		if o.OnlyWords && len(slots) == 0 && !tok.IsWord {
			continue
		}

		toAdd := ""
		if len(slots) == 0 && len(entities) == 0 {
			toAdd = tok.Value
		}

		switch {
		case len(slots) > 0 && o.Slots == SlotsKeepName:
			toAdd = slots[0].Name
		case len(slots) > 0 && o.Slots == SlotsKeepValue:
			toAdd = tok.Value
		case len(entities) > 0 && o.Entities == EntitiesKeepName:
			toAdd = entities[0].Type
		case len(entities) > 0 && o.Entities == EntitiesKeepValue:
			toAdd = entities[0].Value
		case len(entities) > 0 && o.Entities == EntitiesKeepDefault:
			toAdd = tok.Value
		}
		b.WriteString(toAdd)
	}

	final := b.String()
	if o.LowerCase {
		final = strings.ToLower(final)
	}
	return ConvertToRealSpaces(final)
}

// Clone copies the tokens, the tf-idf table and the clustering, and
// optionally the tagged entities and slots.
func (u *Utterance) Clone(copyEntities, copySlots bool) *Utterance {
	tokens := make([]string, len(u.tokens))
	vectors := make([][]float64, len(u.tokens))
	pos := make([]string, len(u.tokens))
	for i, t := range u.tokens {
		tokens[i] = t.Value
		vectors[i] = t.Vector
		pos[i] = t.POS
	}
	c, _ := New(tokens, vectors, pos, u.LanguageCode)

	u.mu.RLock()
	tfidf := u.globalTfidf
	kmeans := u.kmeans
	entities := u.entities
	slots := u.slots
	u.mu.RUnlock()

	c.SetGlobalTfidf(tfidf)
	c.SetKmeans(kmeans)

	if copyEntities {
		for _, e := range entities {
			_ = c.TagEntity(e.ExtractedEntity, e.StartPos, e.EndPos)
		}
	}
	if copySlots {
		for _, s := range slots {
			_ = c.TagSlot(s.ExtractedSlot, s.StartPos, s.EndPos)
		}
	}
	return c
}

func (u *Utterance) maxEnd() int {
	if len(u.tokens) == 0 {
		return 0
	}
	return u.tokens[len(u.tokens)-1].End()
}

// tokenRange validates [start, end] and returns the tokens fully inside it.
func (u *Utterance) tokenRange(start, end int) (Range, bool, error) {
	maxEnd := u.maxEnd()
	if start < 0 || start > end || start > maxEnd || end > maxEnd {
		return Range{}, false, errors.Wrapf(errors.ErrInvalidRange, "range [%d, %d] outside [0, %d]", start, end, maxEnd)
	}

	r := Range{StartTokenIdx: -1, StartPos: start, EndPos: end}
	for _, t := range u.tokens {
		if t.Offset >= start && t.End() <= end {
			if r.StartTokenIdx < 0 {
				r.StartTokenIdx = t.Index
			}
			r.EndTokenIdx = t.Index
		}
	}
	return r, r.StartTokenIdx >= 0, nil
}

// TagEntity tags entity on the tokens fully inside [start, end].
// Nothing is tagged when no token fits the range.
func (u *Utterance) TagEntity(entity ExtractedEntity, start, end int) error {
	r, ok, err := u.tokenRange(start, end)
	if err != nil || !ok {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entities = append(append([]Entity(nil), u.entities...), Entity{ExtractedEntity: entity, Range: r})
	return nil
}

// TagSlot tags slot on the tokens fully inside [start, end].
// Nothing is tagged when no token fits the range.
func (u *Utterance) TagSlot(slot ExtractedSlot, start, end int) error {
	r, ok, err := u.tokenRange(start, end)
	if err != nil || !ok {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.slots = append(append([]Slot(nil), u.slots...), Slot{ExtractedSlot: slot, Range: r})
	return nil
}
