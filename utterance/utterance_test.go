package utterance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/errors"
)

// tokenizeLatin splits on blanks and keeps a space marker token between words.
func tokenizeLatin(text string) []string {
	var out []string
	for i, w := range strings.Split(text, " ") {
		if i > 0 {
			out = append(out, Space)
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func build(t *testing.T, text string, dims int) *Utterance {
	t.Helper()
	tokens := tokenizeLatin(text)
	vectors := make([][]float64, len(tokens))
	pos := make([]string, len(tokens))
	for i := range tokens {
		vectors[i] = make([]float64, dims)
		for d := 0; d < dims; d++ {
			vectors[i][d] = float64(i + d + 1)
		}
		pos[i] = "NOUN"
	}
	u, err := New(tokens, vectors, pos, "en")
	require.NoError(t, err)
	return u
}

const sample = "You might want to behave like if you are not like one of us , But you are !"

type fakeKmeans struct {
	calls  [][]float64
	answer []int
}

func (f *fakeKmeans) Nearest(points [][]float64) []int {
	f.calls = append(f.calls, points[0])
	a := f.answer[0]
	if len(f.answer) > 1 {
		f.answer = f.answer[1:]
	}
	return []int{a}
}

func TestNew(t *testing.T) {
	tokens := tokenizeLatin(sample)
	u := build(t, sample, 3)
	require.Len(t, u.Tokens(), len(tokens))
	for i, tok := range u.Tokens() {
		assert.Equal(t, i, tok.Index)
		assert.Equal(t, tokens[i], tok.Value)
		assert.Equal(t, "NOUN", tok.POS)
	}
	assert.True(t, u.Tokens()[0].IsBOS)
	assert.True(t, u.Tokens()[len(tokens)-1].IsEOS)
	assert.True(t, u.Tokens()[1].IsSpace)
	assert.False(t, u.Tokens()[1].IsWord)
	assert.False(t, u.Tokens()[len(tokens)-1].IsWord, "punctuation is not a word")

	_, err := New(tokens[:3], make([][]float64, 4), make([]string, 3), "en")
	assert.Error(t, err)
}

func TestTokenString(t *testing.T) {
	u := build(t, sample, 3)
	assert.Equal(t, "You", u.Tokens()[0].String())
	assert.Equal(t, "you", u.Tokens()[0].String(TokenStringOptions{LowerCase: true}))
	assert.Equal(t, " ", u.Tokens()[1].String())
	assert.Equal(t, Space, u.Tokens()[1].String(TokenStringOptions{KeepSpaceMarker: true}))
}

func TestTagSlot(t *testing.T) {
	slot := ExtractedSlot{Name: "person", Confidence: 1, Source: "a source"}

	t.Run("out of range", func(t *testing.T) {
		u := build(t, sample, 3)
		err := u.TagSlot(slot, 500, 800)
		assert.True(t, errors.Is(err, errors.ErrInvalidRange))
		assert.Empty(t, u.Slots())
	})

	t.Run("start after end", func(t *testing.T) {
		u := build(t, sample, 3)
		assert.Error(t, u.TagSlot(slot, 5, 2))
	})

	t.Run("single token", func(t *testing.T) {
		u := build(t, sample, 3)
		require.NoError(t, u.TagSlot(slot, 0, 3))
		s := u.Slots()[0]
		assert.Equal(t, 0, s.StartPos)
		assert.Equal(t, 0, s.StartTokenIdx)
		assert.Equal(t, 3, s.EndPos)
		assert.Equal(t, 0, s.EndTokenIdx)
		assert.Len(t, u.Tokens()[0].Slots(), 1)
		assert.Empty(t, u.Tokens()[1].Slots())
	})

	t.Run("multiple tokens", func(t *testing.T) {
		u := build(t, sample, 3)
		require.NoError(t, u.TagSlot(slot, 3, 9))
		s := u.Slots()[0]
		assert.Equal(t, 1, s.StartTokenIdx)
		assert.Equal(t, 2, s.EndTokenIdx)
		require.Len(t, u.Tokens()[1].Slots(), 1)
		assert.Equal(t, "person", u.Tokens()[2].Slots()[0].Name)
		assert.Empty(t, u.Tokens()[3].Slots())
	})

	t.Run("no token fully inside is a no-op", func(t *testing.T) {
		u := build(t, sample, 3)
		require.NoError(t, u.TagSlot(slot, 1, 2))
		assert.Empty(t, u.Slots())
	})
}

func TestTagEntity(t *testing.T) {
	entity := ExtractedEntity{Type: "car", Value: "mercedes", Confidence: 0.45,
		Metadata: EntityMetadata{Extractor: ExtractorSystem}}

	u := build(t, sample, 3)
	assert.Error(t, u.TagEntity(entity, 500, 1300))

	require.NoError(t, u.TagEntity(entity, 5, 10))
	assert.Empty(t, u.Tokens()[0].Entities())
	assert.Empty(t, u.Tokens()[2].Entities(), "partially covered token is not tagged")
	require.Len(t, u.Tokens()[3].Entities(), 1)
	assert.Equal(t, "mercedes", u.Tokens()[3].Entities()[0].Value)
}

func TestTfidfAndCluster(t *testing.T) {
	u := build(t, sample, 3)
	assert.Equal(t, 1.0, u.Tokens()[0].Tfidf())

	u.SetGlobalTfidf(map[string]float64{"You": 0.245})
	assert.Equal(t, 0.245, u.Tokens()[0].Tfidf(), "keys are lower-cased")
	assert.Equal(t, 1.0, u.Tokens()[2].Tfidf())

	assert.Equal(t, 1, u.Tokens()[0].Cluster())
	k := &fakeKmeans{answer: []int{4, 2}}
	u.SetKmeans(k)
	assert.Equal(t, 4, u.Tokens()[0].Cluster())
	assert.Equal(t, u.Tokens()[0].Vector, k.calls[0])
	assert.Equal(t, 2, u.Tokens()[3].Cluster())
	assert.Equal(t, u.Tokens()[3].Vector, k.calls[1])
}

func TestString(t *testing.T) {
	str := "This IS a SUPerTest withFire"

	t.Run("format options", func(t *testing.T) {
		u := build(t, str, 1)
		assert.Equal(t, str, u.String())
		assert.Equal(t, strings.ToLower(str), u.String(StringOptions{LowerCase: true}))
		assert.Equal(t, "ThisISaSUPerTestwithFire", u.String(StringOptions{OnlyWords: true}))
		assert.Equal(t, "thisisasupertestwithfire", u.String(StringOptions{OnlyWords: true, LowerCase: true}))
	})

	slot := ExtractedSlot{Name: "Tiger", Confidence: 1, Source: "supertest"}
	entity := ExtractedEntity{Type: "Woods", Value: "123", Confidence: 1}

	t.Run("slot options", func(t *testing.T) {
		u := build(t, str, 1)
		require.NoError(t, u.TagSlot(slot, 10, 19))
		assert.Equal(t, str, u.String())
		assert.Equal(t, "This IS a Tiger withFire", u.String(StringOptions{Slots: SlotsKeepName}))
		assert.Equal(t, "This IS a  withFire", u.String(StringOptions{Slots: SlotsIgnore}))
	})

	t.Run("entity options", func(t *testing.T) {
		u := build(t, str, 1)
		require.NoError(t, u.TagEntity(entity, 10, 19))
		assert.Equal(t, str, u.String())
		assert.Equal(t, "This IS a 123 withFire", u.String(StringOptions{Entities: EntitiesKeepValue}))
		assert.Equal(t, "This IS a Woods withFire", u.String(StringOptions{Entities: EntitiesKeepName}))
		assert.Equal(t, "This IS a  withFire", u.String(StringOptions{Entities: EntitiesIgnore}))
	})

	t.Run("entity and slot options", func(t *testing.T) {
		u := build(t, str, 1)
		require.NoError(t, u.TagSlot(slot, 10, 19))
		require.NoError(t, u.TagEntity(entity, 10, 19))
		assert.Equal(t, str, u.String(StringOptions{Slots: SlotsKeepValue, Entities: EntitiesKeepValue}))
		assert.Equal(t, "This IS a Tiger withFire", u.String(StringOptions{Slots: SlotsKeepName, Entities: EntitiesKeepValue}))
		assert.Equal(t, str, u.String(StringOptions{Slots: SlotsIgnore, Entities: EntitiesKeepDefault}))
		assert.Equal(t, "This IS a 123 withFire", u.String(StringOptions{Slots: SlotsIgnore, Entities: EntitiesKeepValue}))
		assert.Equal(t, "This IS a Woods withFire", u.String(StringOptions{Slots: SlotsIgnore, Entities: EntitiesKeepName}))
		assert.Equal(t, "This IS a  withFire", u.String(StringOptions{Slots: SlotsIgnore, Entities: EntitiesIgnore}))
	})
}

func TestClone(t *testing.T) {
	u := build(t, sample, 3)
	u.SetGlobalTfidf(map[string]float64{"you": 0.3})
	require.NoError(t, u.TagSlot(ExtractedSlot{Name: "slot", Confidence: 1, Source: "hey", Value: "69"}, 2, 15))
	require.NoError(t, u.TagEntity(ExtractedEntity{Type: "dist", Value: "entity", Confidence: 1}, 22, 28))
	require.NotEmpty(t, u.Slots())
	require.NotEmpty(t, u.Entities())

	tests := []struct {
		name           string
		entities, slot bool
	}{
		{"clone only", false, false},
		{"with entities", true, false},
		{"with slots", false, true},
		{"with both", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := u.Clone(tt.entities, tt.slot)
			assert.NotSame(t, u, c)
			if tt.entities {
				assert.Equal(t, u.Entities(), c.Entities())
			} else {
				assert.Empty(t, c.Entities())
			}
			if tt.slot {
				assert.Equal(t, u.Slots(), c.Slots())
			} else {
				assert.Empty(t, c.Slots())
			}
			for i, tok := range u.Tokens() {
				ct := c.Tokens()[i]
				assert.Equal(t, tok.Value, ct.Value)
				assert.Equal(t, tok.Vector, ct.Vector)
				assert.Equal(t, tok.Offset, ct.Offset)
				assert.Equal(t, tok.Tfidf(), ct.Tfidf())
			}
		})
	}
}

func TestSentenceEmbedding(t *testing.T) {
	tokens := []string{"book", Space, "flight", "!"}
	vectors := [][]float64{{2, 0}, {0, 0}, {0, 4}, {9, 9}}
	u, err := New(tokens, vectors, []string{"VERB", "_", "NOUN", "PUNCT"}, "en")
	require.NoError(t, err)

	emb := u.SentenceEmbedding()
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, emb, 1e-9)

	u.SetGlobalTfidf(map[string]float64{"flight": 0.5})
	emb = u.SentenceEmbedding()
	assert.InDeltaSlice(t, []float64{1 / 1.5, 0.5 / 1.5}, emb, 1e-9)
}

func TestSentenceEmbeddingWithoutWords(t *testing.T) {
	u, err := New([]string{"?"}, [][]float64{{1, 1}}, []string{"PUNCT"}, "en")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, u.SentenceEmbedding())
}

func TestParse(t *testing.T) {
	p := Parse("book a [flight](transport) to [Paris](city)")
	assert.Equal(t, "book a flight to Paris", p.Utterance)
	require.Len(t, p.ParsedSlots, 2)
	assert.Equal(t, ParsedSlot{
		Name:          "transport",
		Value:         "flight",
		RawPosition:   Position{Start: 7, End: 26},
		CleanPosition: Position{Start: 7, End: 13},
	}, p.ParsedSlots[0])
	assert.Equal(t, "city", p.ParsedSlots[1].Name)
	assert.Equal(t, Position{Start: 17, End: 22}, p.ParsedSlots[1].CleanPosition)

	plain := Parse("no markup here")
	assert.Equal(t, "no markup here", plain.Utterance)
	assert.Empty(t, plain.ParsedSlots)
}

func TestPreprocess(t *testing.T) {
	raw := "That there’s some good in this world, Mr. Frodo… and it’s worth fighting for."
	assert.Equal(t, "That there’s some good in this world, Mr. Frodo... and it’s worth fighting for.", Preprocess(raw))
	assert.Equal(t, "a b c", Preprocess("  a   b \t c "))
}
