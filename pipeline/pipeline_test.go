package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	nlutest "github.com/teranos/nlu/internal/testing"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

func testEnv(t *testing.T) Env {
	return Env{Tools: nlutest.NewFakeTools(), Logger: zaptest.NewLogger(t).Sugar()}
}

func flightInput() TrainInput {
	return TrainInput{
		TrainID:      "train-1",
		LanguageCode: "en",
		Seed:         42,
		Intents: []IntentDefinition{
			{Name: "A", Contexts: []string{"global"}, Utterances: []string{"book a flight"}},
			{Name: "B", Contexts: []string{"global"}, Utterances: []string{"cancel my flight"}},
		},
		Contexts:   []string{"global"},
		CtxToTrain: []string{"global"},
	}
}

func travelInput() TrainInput {
	return TrainInput{
		TrainID:      "train-2",
		LanguageCode: "en",
		Seed:         7,
		Intents: []IntentDefinition{
			{
				Name:            "fly",
				Contexts:        []string{"global"},
				SlotDefinitions: []intents.SlotDefinition{{Name: "city", Entities: []string{"city"}}},
				Utterances: []string{
					"fly to [paris](city)",
					"fly to [london](city)",
					"I want to fly to [berlin](city)",
					"book a flight to [rome](city)",
					"get me a plane to [madrid](city) please",
				},
			},
			{
				Name:     "greet",
				Contexts: []string{"global"},
				Utterances: []string{
					"hello there", "hi my friend", "good morning to you", "hey how are you",
				},
			},
		},
		ListEntities: []ListEntityDefinition{
			{Name: "city", FuzzyTolerance: 0.8, Synonyms: map[string][]string{"Paris": {"paname"}, "London": {}}},
		},
		PatternEntities: []entities.PatternEntity{
			{Name: "flight_number", Pattern: `[A-Z]{2}\d{3,4}`, MatchCase: true},
			{Name: "broken", Pattern: `(?<=x)y`},
		},
		Contexts:   []string{"global"},
		CtxToTrain: []string{"global"},
	}
}

func trainAndLoad(t *testing.T, input TrainInput) (*TrainOutput, *Predictors) {
	t.Helper()
	env := testEnv(t)
	out, err := Train(context.Background(), input, env, nil)
	require.NoError(t, err)
	p, err := LoadPredictors(input, *out, env.Tools.MLToolkit(), 100)
	require.NoError(t, err)
	return out, p
}

func TestExactMatchScenario(t *testing.T) {
	_, p := trainAndLoad(t, flightInput())

	out, err := Predict(context.Background(), PredictInput{Text: "book a flight"}, testEnv(t), p)
	require.NoError(t, err)

	require.Contains(t, out.Predictions, "global")
	global := out.Predictions["global"]
	assert.Equal(t, 1.0, global.Confidence)
	assert.Equal(t, 0.0, global.OOS)
	require.Len(t, global.Intents, 1)
	assert.Equal(t, "A", global.Intents[0].Label)
	assert.Equal(t, 1.0, global.Intents[0].Confidence)
	assert.Equal(t, intents.ExactMatcherName, global.Intents[0].Extractor)
	assert.Equal(t, "en", out.Language)
}

func TestExactMatchIgnoresCaseAndPunctuation(t *testing.T) {
	_, p := trainAndLoad(t, flightInput())

	out, err := Predict(context.Background(), PredictInput{Text: "  Cancel my   flight!"}, testEnv(t), p)
	require.NoError(t, err)
	global := out.Predictions["global"]
	require.NotEmpty(t, global.Intents)
	assert.Equal(t, "B", global.Intents[0].Label)
	assert.Equal(t, 1.0, global.Intents[0].Confidence)
	assert.Equal(t, 0.0, global.OOS)
}

func TestZeroIntentsPredictsNone(t *testing.T) {
	input := TrainInput{
		TrainID:      "empty",
		LanguageCode: "en",
		Seed:         1,
		Contexts:     []string{"global", "support"},
		CtxToTrain:   []string{"global", "support"},
	}
	_, p := trainAndLoad(t, input)

	out, err := Predict(context.Background(), PredictInput{Text: "anything at all"}, testEnv(t), p)
	require.NoError(t, err)
	require.Len(t, out.Predictions, 2)
	for _, name := range []string{"global", "support"} {
		pred := out.Predictions[name]
		require.Len(t, pred.Intents, 1, name)
		assert.Equal(t, intents.NoneIntent, pred.Intents[0].Label)
		assert.Equal(t, 1.0, pred.Intents[0].Confidence)
	}
}

func TestTrainingIsDeterministic(t *testing.T) {
	first, err := Train(context.Background(), travelInput(), testEnv(t), nil)
	require.NoError(t, err)
	second, err := Train(context.Background(), travelInput(), testEnv(t), nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTrainOutput(t *testing.T) {
	out, _ := trainAndLoad(t, travelInput())

	assert.Equal(t, []string{"global"}, out.Contexts)
	assert.Contains(t, out.IntentModelByCtx, "global")
	assert.Contains(t, out.SlotModelByIntent, "fly")
	assert.Contains(t, out.SlotModelByIntent, "greet")
	assert.NotEmpty(t, out.CtxModel)
	require.NotNil(t, out.Kmeans)
	assert.Len(t, out.Kmeans.Centroids, nbClusters)

	assert.Contains(t, out.Vocab, "paris")
	assert.Contains(t, out.Vocab, "hello")
	assert.Contains(t, out.Tfidf, "fly")

	require.Len(t, out.ListEntities, 1)
	city := out.ListEntities[0]
	assert.Equal(t, "custom.list.city", city.ID)
	assert.Equal(t, [][]string{{"paname"}, {"Paris"}}, city.MappingsTokens["Paris"])
	assert.Equal(t, [][]string{{"London"}}, city.MappingsTokens["London"])
	assert.NotEmpty(t, city.Cache, "training extractions are cached")
}

func TestPredictSlotsAndEntities(t *testing.T) {
	_, p := trainAndLoad(t, travelInput())

	out, err := Predict(context.Background(), PredictInput{Text: "fly to paname"}, testEnv(t), p)
	require.NoError(t, err)

	var city *Entity
	for i, e := range out.Entities {
		if e.Name == "city" {
			city = &out.Entities[i]
		}
	}
	require.NotNil(t, city)
	assert.Equal(t, "Paris", city.Data.Value)
	assert.Equal(t, "custom.list.city", city.Type)
	assert.Equal(t, 7, city.Meta.Start)
	assert.Equal(t, 13, city.Meta.End)

	out, err = Predict(context.Background(), PredictInput{Text: "fly to paris"}, testEnv(t), p)
	require.NoError(t, err)
	var fly *IntentPrediction
	for i, ip := range out.Predictions["global"].Intents {
		if ip.Label == "fly" {
			fly = &out.Predictions["global"].Intents[i]
		}
	}
	require.NotNil(t, fly)
	require.Contains(t, fly.Slots, "city")
	slot := fly.Slots["city"]
	assert.Equal(t, "Paris", slot.Value)
	assert.Equal(t, "paris", slot.Source)
	require.NotNil(t, slot.Entity)
	assert.Equal(t, "city", slot.Entity.Name)
}

func TestPredictPatternEntity(t *testing.T) {
	_, p := trainAndLoad(t, travelInput())
	require.Len(t, p.PatternEntities, 1, "invalid patterns are dropped")

	out, err := Predict(context.Background(), PredictInput{Text: "status of AF1234"}, testEnv(t), p)
	require.NoError(t, err)
	var found bool
	for _, e := range out.Entities {
		if e.Name == "flight_number" {
			found = true
			assert.Equal(t, "AF1234", e.Data.Value)
			assert.Equal(t, "custom.pattern.flight_number", e.Type)
			assert.Equal(t, 10, e.Meta.Start)
			assert.Equal(t, 16, e.Meta.End)
		}
	}
	assert.True(t, found)
}

func TestPredictRestrictsToIncludedContexts(t *testing.T) {
	input := TrainInput{
		TrainID:      "contexts",
		LanguageCode: "en",
		Seed:         3,
		Intents: []IntentDefinition{
			{Name: "book", Contexts: []string{"travel"}, Utterances: []string{
				"book a flight", "book a train to rome", "reserve a plane seat", "I need a flight",
			}},
			{Name: "hello", Contexts: []string{"smalltalk"}, Utterances: []string{
				"hello there", "hi my friend", "good morning", "hey how are you",
			}},
		},
		Contexts:   []string{"travel", "smalltalk"},
		CtxToTrain: []string{"travel", "smalltalk"},
	}
	_, p := trainAndLoad(t, input)
	require.NotNil(t, p.ctxClassifier)

	out, err := Predict(context.Background(), PredictInput{Text: "book a flight", IncludedContexts: []string{"smalltalk", "unknown"}}, testEnv(t), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"smalltalk"}, out.IncludedContexts)
	require.Len(t, out.Predictions, 1)
	assert.InDelta(t, 1.0, out.Predictions["smalltalk"].Confidence, 1e-9)

	out, err = Predict(context.Background(), PredictInput{Text: "book a flight"}, testEnv(t), p)
	require.NoError(t, err)
	assert.Len(t, out.Predictions, 2)
}

func TestRestrictContexts(t *testing.T) {
	preds := []intents.Prediction{{Name: "a", Confidence: 0.6}, {Name: "b", Confidence: 0.3}, {Name: "c", Confidence: 0.1}}

	got := restrictContexts(preds, []string{"b", "c"})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.75, got[0].Confidence, 1e-9)
	assert.InDelta(t, 0.25, got[1].Confidence, 1e-9)
	assert.Equal(t, 0.6, preds[0].Confidence)

	got = restrictContexts([]intents.Prediction{{Name: "a", Confidence: 0}, {Name: "b", Confidence: 0}}, []string{"a", "b"})
	assert.Equal(t, 0.5, got[0].Confidence)

	assert.Equal(t, []intents.Prediction{{Name: "z", Confidence: 1}}, restrictContexts(preds, []string{"z"}))
}

func TestProbabilitiesSumToOne(t *testing.T) {
	_, p := trainAndLoad(t, travelInput())
	out, err := Predict(context.Background(), PredictInput{Text: "hello my dear friend"}, testEnv(t), p)
	require.NoError(t, err)

	global := out.Predictions["global"]
	total := global.OOS
	for _, ip := range global.Intents {
		total += ip.Confidence
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestTrainReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		values []float64
	)
	_, err := Train(context.Background(), travelInput(), testEnv(t), func(p float64) {
		mu.Lock()
		values = append(values, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, values)
	assert.Equal(t, 0.0, values[0])
	assert.Equal(t, 1.0, values[len(values)-1])
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
}

func TestTrainStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, travelInput(), testEnv(t), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadPredictorsRejectsCorruptModels(t *testing.T) {
	input := flightInput()
	out, err := Train(context.Background(), input, testEnv(t), nil)
	require.NoError(t, err)

	broken := *out
	broken.CtxModel = "{"
	_, err = LoadPredictors(input, broken, nlutest.NewFakeTools().MLToolkit(), 10)
	require.Error(t, err)
	assert.True(t, errors.IsModelLoadingError(err))

	broken = *out
	broken.IntentModelByCtx = map[string]string{"global": `{"trainingVocab":[]}`}
	_, err = LoadPredictors(input, broken, nlutest.NewFakeTools().MLToolkit(), 10)
	require.Error(t, err)
	assert.True(t, errors.IsModelLoadingError(err))
}

func TestBuildUtterancesTagsSlots(t *testing.T) {
	utts, err := BuildUtterances(context.Background(), nlutest.NewFakeTools(),
		[]string{"  fly to   [new york](city)…"}, "en", nil)
	require.NoError(t, err)
	require.Len(t, utts, 1)

	u := utts[0]
	assert.Equal(t, "fly to new york...", u.String())
	require.Len(t, u.Slots(), 1)
	s := u.Slots()[0]
	assert.Equal(t, "city", s.Name)
	assert.Equal(t, "new york", s.Value)
	assert.Equal(t, 7, s.StartPos)
	assert.Equal(t, 15, s.EndPos)
}

func TestTfidf(t *testing.T) {
	tables := Tfidf(map[string][]string{
		"a": {"book", "flight", "book"},
		"b": {"cancel", "flight"},
	})
	avg := tables[AverageDocument]
	assert.InDelta(t, 0.924, avg["book"], 1e-3)
	assert.InDelta(t, 0.693, avg["cancel"], 1e-3)
	assert.Equal(t, SmallTfidf, avg["flight"])
	assert.Equal(t, SmallTfidf, tables["a"]["flight"])
}

func TestNoneTexts(t *testing.T) {
	all := []*utterance.Utterance{
		nlutest.MakeUtterance(t, "book a flight"),
		nlutest.MakeUtterance(t, "cancel my flight"),
		nlutest.MakeUtterance(t, "where is my luggage"),
	}
	junk := []string{"koob", "lecnac", "thgilf"}
	stop := []string{"the", "a"}

	first := noneTexts(all, junk, stop, tools.NewRand(3))
	second := noneTexts(all, junk, stop, tools.NewRand(3))
	assert.Equal(t, first, second)

	require.Len(t, first, 3*minNoneUtterances+len(stop))
	assert.Equal(t, stop, first[len(first)-len(stop):])
	for _, s := range first {
		assert.NotEmpty(t, s)
	}

	assert.Empty(t, noneTexts(nil, junk, stop, tools.NewRand(3)))
}

func TestProgressReporterScalesSteps(t *testing.T) {
	var got []float64
	r := newProgressReporter(func(p float64) { got = append(got, p) })
	r.start()
	r.step(1)
	r.flush()
	r.step(0.5)
	r.flush()
	r.step(0.5)
	r.step(1)
	r.flush()
	r.done()
	assert.Equal(t, []float64{0, 0.2, 0.3, 0.4, 1}, got)
}
