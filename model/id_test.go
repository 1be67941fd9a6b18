package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/tools"
)

var testSpecs = tools.Specifications{
	NLUVersion:     "1.0.0",
	LanguageServer: tools.LanguageServer{Dimensions: 300, Domain: "bp", Version: "1.1.0"},
}

func testTrainSet() TrainSet {
	return TrainSet{
		LanguageCode: "en",
		Seed:         42,
		EntityDefs: []EntityDefinition{
			{Name: "city", Type: EntityTypeList, Fuzzy: 0.8, Occurrences: []Occurrence{{Name: "Paris", Synonyms: []string{"paname"}}}},
			{Name: "flight_number", Type: EntityTypePattern, Pattern: `[A-Z]{2}\d{3,4}`, MatchCase: true},
			{Name: "broken", Type: EntityTypePattern, Pattern: `(?<=x)y`},
		},
		IntentDefs: []IntentDefinition{
			{
				Name:       "fly",
				Contexts:   []string{"travel", "global"},
				Slots:      []intents.SlotDefinition{slotDef("city", "city")},
				Utterances: map[string][]string{"en": {"fly to [paris](city)"}, "fr": {"aller à [paris](city)"}},
			},
			{
				Name:       "bonjour",
				Contexts:   []string{"global"},
				Utterances: map[string][]string{"fr": {"bonjour"}},
			},
		},
	}
}

func TestMakeID(t *testing.T) {
	set := testTrainSet()
	id := MakeID(set.EntityDefs, set.IntentDefs, set.LanguageCode, set.Seed, testSpecs)

	assert.Len(t, id.ContentHash, 16)
	assert.Len(t, id.SpecificationHash, 16)
	assert.Equal(t, int64(42), id.Seed)
	assert.Equal(t, "en", id.LanguageCode)
	assert.True(t, IsID(id.String()))

	again := MakeID(set.EntityDefs, set.IntentDefs, set.LanguageCode, set.Seed, testSpecs)
	assert.Equal(t, id, again)

	set.IntentDefs[0].Utterances["en"] = append(set.IntentDefs[0].Utterances["en"], "fly me to [rome](city)")
	changed := MakeID(set.EntityDefs, set.IntentDefs, set.LanguageCode, set.Seed, testSpecs)
	assert.NotEqual(t, id.ContentHash, changed.ContentHash)
	assert.Equal(t, id.SpecificationHash, changed.SpecificationHash)

	otherSpecs := testSpecs
	otherSpecs.LanguageServer.Dimensions = 100
	respecified := MakeID(set.EntityDefs, set.IntentDefs, set.LanguageCode, set.Seed, otherSpecs)
	assert.NotEqual(t, changed.SpecificationHash, respecified.SpecificationHash)
}

func TestParseID(t *testing.T) {
	id := ID{ContentHash: "0123456789abcdef", SpecificationHash: "fedcba9876543210", Seed: 666, LanguageCode: "fr"}
	assert.Equal(t, "0123456789abcdef.fedcba9876543210.666.fr", id.String())

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{
		"",
		"0123456789abcdef.fedcba9876543210.666",
		"0123456789abcdef.fedcba9876543210.-1.fr",
		"0123456789ABCDEF.fedcba9876543210.1.fr",
		"0123456789abcde.fedcba9876543210.1.fr",
		"0123456789abcdef.fedcba9876543210.1.fra",
	} {
		assert.False(t, IsID(bad), bad)
		_, err := ParseID(bad)
		assert.True(t, errors.IsInvalidRequestError(err), bad)
	}
}

func TestBuildTrainInput(t *testing.T) {
	set := testTrainSet()
	caches := map[string][]entities.ListCacheEntry{"city": {{Key: "fly to paname"}}}

	input := BuildTrainInput("train-1", set, caches)

	assert.Equal(t, "train-1", input.TrainID)
	assert.Equal(t, []string{"global", "travel"}, input.Contexts)
	assert.Equal(t, input.Contexts, input.CtxToTrain)

	require.Len(t, input.Intents, 1)
	assert.Equal(t, "fly", input.Intents[0].Name)
	assert.Equal(t, []string{"fly to [paris](city)"}, input.Intents[0].Utterances)

	require.Len(t, input.ListEntities, 1)
	assert.Equal(t, map[string][]string{"Paris": {"paname"}}, input.ListEntities[0].Synonyms)
	assert.Equal(t, 0.8, input.ListEntities[0].FuzzyTolerance)
	assert.Len(t, input.ListEntities[0].Cache, 1)

	require.Len(t, input.PatternEntities, 1)
	assert.Equal(t, "flight_number", input.PatternEntities[0].Name)
	assert.True(t, input.PatternEntities[0].MatchCase)
}
