package slots

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	nlutest "github.com/teranos/nlu/internal/testing"
	"github.com/teranos/nlu/ml"
	"github.com/teranos/nlu/utterance"
)

// slotted builds an utterance where value is tagged as slot name.
func slotted(t *testing.T, text, value, name string) *utterance.Utterance {
	t.Helper()
	u := nlutest.MakeUtterance(t, text)
	start := utterance.RuneLen(text[:strings.Index(text, value)])
	require.NoError(t, u.TagSlot(utterance.ExtractedSlot{Name: name, Source: value, Value: value, Confidence: 1},
		start, start+utterance.RuneLen(value)))
	return u
}

func travelIntent(t *testing.T) *intents.Intent {
	return &intents.Intent{
		Name:            "fly",
		Contexts:        []string{"global"},
		SlotDefinitions: []intents.SlotDefinition{{Name: "city", Entities: []string{"any"}}},
		Utterances: []*utterance.Utterance{
			slotted(t, "fly to paris", "paris", "city"),
			slotted(t, "fly to london", "london", "city"),
			slotted(t, "fly to berlin", "berlin", "city"),
			slotted(t, "I want to go to madrid", "madrid", "city"),
			slotted(t, "book a flight to rome", "rome", "city"),
			slotted(t, "fly to new york", "new york", "city"),
		},
	}
}

func TestLabelize(t *testing.T) {
	u := slotted(t, "fly to new york", "new york", "city")
	assert.Equal(t, []string{"O", "O", "B-city/any", "I-city/any"}, Labelize(u))

	require.NoError(t, u.TagEntity(utterance.ExtractedEntity{Type: "city", Value: "NYC"}, 7, 15))
	assert.Equal(t, []string{"O", "O", "B-city", "I-city"}, Labelize(u))

	assert.Equal(t, []string{"O", "O"}, Labelize(nlutest.MakeUtterance(t, "hello there")))
}

func TestTaggerWithoutSlotsNeverExtracts(t *testing.T) {
	tagger := NewTagger(ml.NewToolkit())
	intent := &intents.Intent{
		Name:       "greet",
		Utterances: []*utterance.Utterance{nlutest.MakeUtterance(t, "hello there")},
	}
	var last float64
	require.NoError(t, tagger.Train(context.Background(), TrainInput{Intent: intent}, func(p float64) { last = p }))
	assert.Equal(t, 1.0, last)

	found, err := tagger.Predict(nlutest.MakeUtterance(t, "hello there"))
	require.NoError(t, err)
	assert.Empty(t, found)

	serialized, err := tagger.Serialize()
	require.NoError(t, err)
	assert.NotContains(t, serialized, "crfModel")

	loaded := NewTagger(ml.NewToolkit())
	require.NoError(t, loaded.Load(serialized))
	found, err = loaded.Predict(nlutest.MakeUtterance(t, "hello there"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTaggerExtractsTrainedSlots(t *testing.T) {
	tagger := NewTagger(ml.NewToolkit())
	require.NoError(t, tagger.Train(context.Background(), TrainInput{Intent: travelIntent(t), Seed: 42}, nil))

	found, err := tagger.Predict(nlutest.MakeUtterance(t, "fly to paris"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "city", found[0].Slot.Name)
	assert.Equal(t, "paris", found[0].Slot.Value)
	assert.Equal(t, 7, found[0].Start)
	assert.Equal(t, 12, found[0].End)
	assert.Greater(t, found[0].Slot.Confidence, MinSlotConfidence)

	found, err = tagger.Predict(nlutest.MakeUtterance(t, "fly to new york"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "new york", found[0].Slot.Source)
	assert.Equal(t, 7, found[0].Start)
	assert.Equal(t, 15, found[0].End)
}

func TestTaggerRoundTrip(t *testing.T) {
	tagger := NewTagger(ml.NewToolkit())
	require.NoError(t, tagger.Train(context.Background(), TrainInput{Intent: travelIntent(t), Seed: 42}, nil))
	serialized, err := tagger.Serialize()
	require.NoError(t, err)

	loaded := NewTagger(ml.NewToolkit())
	require.NoError(t, loaded.Load(serialized))

	u := nlutest.MakeUtterance(t, "fly to london")
	want, err := tagger.Predict(u)
	require.NoError(t, err)
	got, err := loaded.Predict(u)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTaggerVocabIncludesListSynonyms(t *testing.T) {
	intent := travelIntent(t)
	intent.SlotDefinitions = []intents.SlotDefinition{{Name: "city", Entities: []string{"airport"}}}
	features := intentFeatures(intent, []*entities.ListEntityModel{
		{EntityName: "airport", MappingsTokens: map[string][][]string{"JFK": {{"kennedy"}, {"Idlewild", "▁", "airport"}}}},
		{EntityName: "fruit", MappingsTokens: map[string][][]string{"apple": {{"pomme"}}}},
	})
	assert.Contains(t, features.Vocab, "kennedy")
	assert.Contains(t, features.Vocab, "idlewild")
	assert.Contains(t, features.Vocab, "airport")
	assert.NotContains(t, features.Vocab, "pomme")
	assert.NotContains(t, features.Vocab, "paris")
	assert.Contains(t, features.Vocab, "fly")
	assert.Equal(t, []string{"airport"}, features.SlotEntities)
}

func TestTaggerPredictBeforeTrain(t *testing.T) {
	_, err := NewTagger(ml.NewToolkit()).Predict(nlutest.MakeUtterance(t, "hello"))
	assert.Error(t, err)
	_, err = NewTagger(ml.NewToolkit()).Serialize()
	assert.Error(t, err)
}

func TestTaggerLoadRejectsInvalidModels(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":         "{",
		"no intent name":   `{"intentFeatures":{"vocab":[],"slot_entities":[]},"slot_definitions":[]}`,
		"no vocab":         `{"intentFeatures":{"name":"fly","slot_entities":[]},"slot_definitions":[]}`,
		"no slot defs":     `{"intentFeatures":{"name":"fly","vocab":[],"slot_entities":[]}}`,
		"unnamed slot":     `{"intentFeatures":{"name":"fly","vocab":[],"slot_entities":[]},"slot_definitions":[{"entities":[]}]}`,
		"broken crf model": `{"crfModel":"nope","intentFeatures":{"name":"fly","vocab":[],"slot_entities":[]},"slot_definitions":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := NewTagger(ml.NewToolkit()).Load(raw)
			require.Error(t, err)
			assert.True(t, errors.IsModelLoadingError(err))
		})
	}
}

func TestBestTagAddsAnyMarginals(t *testing.T) {
	res := bestTag(map[string]float64{"O": 0.4, "B-city": 0.25, "B-city/any": 0.3, "I-city/any": 0.05})
	assert.Equal(t, "B", res.tag)
	assert.Equal(t, "city", res.name)
	assert.InDelta(t, 0.55, res.probability, 1e-9)

	res = bestTag(map[string]float64{"O": 0.7, "B-city/any": 0.3})
	assert.Equal(t, "O", res.tag)
	assert.Equal(t, "", res.name)
}

func TestRemoveInvalidTags(t *testing.T) {
	tagger := &Tagger{model: &Model{SlotDefinitions: []intents.SlotDefinition{{Name: "city", Entities: []string{"any"}}}}}

	assert.Equal(t, tagResult{tag: "B", name: "city", probability: 0.8},
		tagger.removeInvalid(tagResult{tag: "B", name: "city", probability: 0.8}))

	low := tagger.removeInvalid(tagResult{tag: "B", name: "city", probability: 0.1})
	assert.Equal(t, "O", low.tag)
	assert.InDelta(t, 0.9, low.probability, 1e-9)

	assert.Equal(t, "O", tagger.removeInvalid(tagResult{tag: "I", name: "date", probability: 0.9}).tag)
}

func TestMergeAndEntityAssociation(t *testing.T) {
	u := nlutest.MakeUtterance(t, "fly to New York tomorrow")
	require.NoError(t, u.TagEntity(utterance.ExtractedEntity{Type: "city", Value: "NYC", Confidence: 1}, 7, 15))

	results := []tagResult{
		{tag: "O", probability: 0.9},
		{tag: "O", probability: 0.9},
		{tag: "B", name: "to", probability: 0.8},
		{tag: "I", name: "to", probability: 0.7},
		{tag: "I", name: "when", probability: 0.6},
	}
	found := makeExtractedSlots([]string{"city"}, u, results)
	require.Len(t, found, 2)

	assert.Equal(t, "to", found[0].Slot.Name)
	assert.Equal(t, "New York", found[0].Slot.Source)
	assert.Equal(t, "NYC", found[0].Slot.Value)
	assert.Equal(t, 7, found[0].Start)
	assert.Equal(t, 15, found[0].End)
	require.NotNil(t, found[0].Slot.Entity)
	assert.Equal(t, "city", found[0].Slot.Entity.Type)
	assert.Equal(t, 0.8, found[0].Slot.Confidence)

	assert.Equal(t, "when", found[1].Slot.Name)
	assert.Equal(t, "tomorrow", found[1].Slot.Value)
	assert.Nil(t, found[1].Slot.Entity)
}

func TestEntityOfDisallowedTypeIsIgnored(t *testing.T) {
	u := nlutest.MakeUtterance(t, "fly to Paris")
	require.NoError(t, u.TagEntity(utterance.ExtractedEntity{Type: "city", Value: "PAR"}, 7, 12))

	found := makeExtractedSlots([]string{"airport"}, u, []tagResult{
		{tag: "O"}, {tag: "O"}, {tag: "B", name: "to", probability: 0.9},
	})
	require.Len(t, found, 1)
	assert.Equal(t, "Paris", found[0].Slot.Value)
	assert.Nil(t, found[0].Slot.Entity)
}
