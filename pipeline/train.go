package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/slots"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

const (
	nbClusters       = 8
	kmeansIterations = 250
	kmeansSeed       = 666
)

// trainStep is the state handed from one stage to the next.
type trainStep struct {
	input        TrainInput
	listEntities []*entities.ListEntityModel
	patterns     []entities.PatternEntity
	intents      []*intents.Intent
	vocab        map[string][]float64
	tfidf        map[string]float64
	kmeans       *tools.KMeansModel
	none         *intents.Intent
	exact        intents.ExactMatchIndex
}

func (s *trainStep) allUtterances() []*utterance.Utterance {
	var out []*utterance.Utterance
	for _, i := range s.intents {
		out = append(out, i.Utterances...)
	}
	return out
}

// Train runs every training stage and returns the serialized models.
// Given the same input, seed and tools, the output is identical.
func Train(ctx context.Context, input TrainInput, env Env, progress tools.ProgressFunc) (*TrainOutput, error) {
	if env.Tools == nil {
		return nil, errors.New("training needs tools")
	}
	log := env.Logger
	if log == nil {
		log = logger.ComponentLogger("pipeline")
	}
	log = log.With(logger.FieldTrainID, input.TrainID, logger.FieldLanguage, input.LanguageCode)

	report := newProgressReporter(progress)
	report.start()

	stage := func(name string, fn func() error) error {
		start := time.Now()
		log.Debugw("Started training stage", logger.FieldStep, name)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return errors.Wrapf(err, "training stage %s failed", name)
		}
		log.Debugw("Done training stage", logger.FieldStep, name, logger.FieldDurationMS, time.Since(start).Milliseconds())
		return nil
	}

	var step *trainStep
	err := stage("preprocess", func() (err error) {
		step, err = preprocess(ctx, input, env)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.step(1)

	if err := stage("tfidf", func() error { tfidfTokens(step); return nil }); err != nil {
		return nil, err
	}
	if err := stage("cluster", func() error { return clusterTokens(ctx, step, env.Tools) }); err != nil {
		return nil, err
	}
	report.step(1)

	if err := stage("entities", func() error { return extractEntities(ctx, step, env, log) }); err != nil {
		return nil, err
	}
	report.step(1)

	err = stage("none-intent", func() (err error) {
		step.none, err = makeNoneIntent(ctx, env.Tools, step.allUtterances(), input.LanguageCode, input.Seed)
		if err != nil {
			return err
		}
		for _, u := range step.none.Utterances {
			u.SetGlobalTfidf(step.tfidf)
			if step.kmeans != nil {
				u.SetKmeans(step.kmeans)
			}
		}
		step.exact = intents.BuildExactMatchIndex(step.intents)
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.step(1)

	var out *TrainOutput
	err = stage("models", func() (err error) {
		out, err = trainModels(ctx, step, env, report)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.done()
	return out, nil
}

func preprocess(ctx context.Context, input TrainInput, env Env) (*trainStep, error) {
	step := &trainStep{
		input:    input,
		patterns: entities.FilterValidPatterns(input.PatternEntities),
	}

	for _, def := range input.ListEntities {
		model, err := makeListEntityModel(ctx, env.Tools, def, input.LanguageCode, env.ListCacheSize)
		if err != nil {
			return nil, err
		}
		step.listEntities = append(step.listEntities, model)
	}

	for _, def := range input.Intents {
		if len(def.Utterances) == 0 {
			continue
		}
		utts, err := BuildUtterances(ctx, env.Tools, def.Utterances, input.LanguageCode, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to preprocess intent %s", def.Name)
		}
		step.intents = append(step.intents, &intents.Intent{
			Name:            def.Name,
			Contexts:        append([]string{}, def.Contexts...),
			SlotDefinitions: def.SlotDefinitions,
			Utterances:      utts,
		})
	}
	step.vocab = vocabVectors(step.intents)
	return step, nil
}

func tfidfTokens(step *trainStep) {
	docs := make(map[string][]string, len(step.intents))
	for _, intent := range step.intents {
		var terms []string
		for _, u := range intent.Utterances {
			terms = append(terms, lowerWords(u)...)
		}
		docs[intent.Name] = terms
	}
	step.tfidf = Tfidf(docs)[AverageDocument]
	for _, u := range step.allUtterances() {
		u.SetGlobalTfidf(step.tfidf)
	}
}

func clusterTokens(ctx context.Context, step *trainStep, t tools.Tools) error {
	seen := map[string]struct{}{}
	var data [][]float64
	for _, u := range step.allUtterances() {
		for _, tok := range u.Tokens() {
			if _, ok := seen[tok.Value]; ok {
				continue
			}
			seen[tok.Value] = struct{}{}
			data = append(data, tok.Vector)
		}
	}
	if len(data) < 2 {
		return nil
	}

	k := 2
	if len(data) > nbClusters {
		k = nbClusters
	}
	model, err := t.MLToolkit().KMeans(ctx, data, tools.KMeansOptions{K: k, MaxIterations: kmeansIterations, Seed: kmeansSeed})
	if err != nil {
		return errors.Wrap(err, "failed to cluster tokens")
	}
	step.kmeans = model
	for _, u := range step.allUtterances() {
		u.SetKmeans(model)
	}
	return nil
}

func systemEntities(env Env) (*entities.SystemEntityCache, error) {
	if env.SystemEntities != nil {
		return env.SystemEntities, nil
	}
	extractor := env.Tools.SystemEntityExtractor()
	if extractor == nil {
		return nil, nil
	}
	return entities.NewSystemEntityCache(extractor, entities.SystemCacheOptions{Logger: env.Logger})
}

// tagEntities tags the system, list and pattern entities found in u.
func tagEntities(u *utterance.Utterance, system []utterance.EntityExtractionResult, lists []*entities.ListEntityModel, patterns []entities.PatternEntity) {
	found := append([]utterance.EntityExtractionResult{}, system...)
	found = append(found, entities.ExtractListEntities(u, lists, true)...)
	found = append(found, entities.ExtractPatternEntities(u, patterns)...)
	for _, e := range found {
		// Out of range results come from a misbehaving recognizer.
		_ = u.TagEntity(e.ExtractedEntity, e.Start, e.End)
	}
}

func extractEntities(ctx context.Context, step *trainStep, env Env, log *zap.SugaredLogger) error {
	utts := step.allUtterances()
	system, err := systemEntities(env)
	if err != nil {
		return err
	}

	var sys [][]utterance.EntityExtractionResult
	if system != nil {
		texts := make([]string, len(utts))
		for i, u := range utts {
			texts[i] = u.String()
		}
		sys = system.ExtractMultiple(ctx, texts, step.input.LanguageCode, true)
	}

	for i, u := range utts {
		var found []utterance.EntityExtractionResult
		if sys != nil {
			found = sys[i]
		}
		tagEntities(u, found, step.listEntities, step.patterns)
	}
	log.Debugw("Tagged entities", logger.FieldCount, len(utts))
	return nil
}

// trainModels trains the context classifier, the intent classifier of
// every context to train and the slot tagger of every intent concurrently.
func trainModels(ctx context.Context, step *trainStep, env Env, report *progressReporter) (*TrainOutput, error) {
	toolkit := env.Tools.MLToolkit()
	input := step.input
	custom := customEntityNames(step.listEntities, step.patterns)
	all := step.allUtterances()
	posAvailable := env.Tools.IsPOSAvailable(input.LanguageCode)

	var (
		mu        sync.Mutex
		partsMu   sync.Mutex
		ctxModel  string
		intentsBy = make(map[string]string, len(input.CtxToTrain))
		slotsBy   = make(map[string]string, len(step.intents))
	)
	parts := make([]float64, 1+len(input.CtxToTrain)+len(step.intents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	g.Go(func() error {
		clf := intents.NewContextClassifier(toolkit)
		err := clf.Train(gctx, intents.ContextTrainInput{
			Contexts:       input.Contexts,
			Intents:        step.intents,
			CustomEntities: custom,
			Seed:           input.Seed,
		}, report.sub(parts, 0, &partsMu))
		if err != nil {
			return errors.Wrap(err, "failed to train context classifier")
		}
		serialized, err := clf.Serialize()
		if err != nil {
			return err
		}
		mu.Lock()
		ctxModel = serialized
		mu.Unlock()
		return nil
	})

	for i, ctxName := range input.CtxToTrain {
		g.Go(func() error {
			clf := intents.NewIntentClassifier(toolkit)
			err := clf.Train(gctx, intents.IntentTrainInput{
				Context:        ctxName,
				Intents:        contextIntents(step.intents, ctxName),
				AllUtterances:  all,
				NoneUtterances: step.none.Utterances,
				ExactIndex:     step.exact,
				CustomEntities: custom,
				POSAvailable:   posAvailable,
				Seed:           input.Seed,
			}, report.sub(parts, 1+i, &partsMu))
			if err != nil {
				return errors.Wrapf(err, "failed to train intent classifier of context %s", ctxName)
			}
			serialized, err := clf.Serialize()
			if err != nil {
				return err
			}
			mu.Lock()
			intentsBy[ctxName] = serialized
			mu.Unlock()
			return nil
		})
	}

	for i, intent := range step.intents {
		g.Go(func() error {
			tagger := slots.NewTagger(toolkit)
			err := tagger.Train(gctx, slots.TrainInput{
				Intent:       intent,
				ListEntities: step.listEntities,
				Seed:         input.Seed,
			}, report.sub(parts, 1+len(input.CtxToTrain)+i, &partsMu))
			if err != nil {
				return errors.Wrapf(err, "failed to train slot tagger of intent %s", intent.Name)
			}
			serialized, err := tagger.Serialize()
			if err != nil {
				return err
			}
			mu.Lock()
			slotsBy[intent.Name] = serialized
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cold := make([]entities.ColdListEntityModel, len(step.listEntities))
	for i, l := range step.listEntities {
		cold[i] = l.Cold()
	}
	contexts := append([]string{}, input.Contexts...)
	return &TrainOutput{
		ListEntities:      cold,
		Tfidf:             step.tfidf,
		Vocab:             step.vocab,
		Kmeans:            step.kmeans,
		Contexts:          contexts,
		CtxModel:          ctxModel,
		IntentModelByCtx:  intentsBy,
		SlotModelByIntent: slotsBy,
	}, nil
}

func contextIntents(all []*intents.Intent, ctxName string) []*intents.Intent {
	var out []*intents.Intent
	for _, i := range all {
		if i.HasContext(ctxName) {
			out = append(out, i)
		}
	}
	return out
}
