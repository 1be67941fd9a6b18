package intents

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

const (
	// IntentClassifierName is the extractor of SVM intent predictions.
	IntentClassifierName    = "classifier"
	intentClassifierDisplay = "OOS intent classifier"

	oosC = 10
	// noneRatio is how many none utterances are kept per utterance of an
	// average intent.
	noneRatio = 2.5
)

// IntentTrainInput is the input of IntentClassifier.Train for one context.
type IntentTrainInput struct {
	Context        string
	Intents        []*Intent
	AllUtterances  []*utterance.Utterance
	NoneUtterances []*utterance.Utterance
	ExactIndex     ExactMatchIndex
	CustomEntities []string
	POSAvailable   bool
	Seed           int64
}

// IntentModel is the serialized form of an IntentClassifier.
type IntentModel struct {
	TrainingVocab      []string `json:"trainingVocab"`
	BaseIntentClfModel string   `json:"baseIntentClfModel"`
	OOSSVMModel        string   `json:"oosSvmModel,omitempty"`
	ExactMatchModel    string   `json:"exactMatchModel"`
}

// IntentClassifier predicts the intent of an utterance within one context.
// An exact match of a training utterance wins over the SVM.
type IntentClassifier struct {
	toolkit tools.MLToolkit

	context string
	model   *IntentModel
	base    *SVMClassifier
	oos     tools.SVMPredictor
	vocab   map[string]struct{}
	exact   ExactMatchIndex
}

func NewIntentClassifier(toolkit tools.MLToolkit) *IntentClassifier {
	return &IntentClassifier{toolkit: toolkit}
}

// Train learns the base SVM and the out-of-scope SVM concurrently.
func (c *IntentClassifier) Train(ctx context.Context, input IntentTrainInput, progress tools.ProgressFunc) error {
	var mu sync.Mutex
	parts := make([]float64, 2)
	report := func(part int) tools.ProgressFunc {
		return func(p float64) {
			if progress == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			parts[part] = p
			progress((parts[0] + parts[1]) / 2)
		}
	}

	vocab := Vocabulary(input.AllUtterances)
	sort.Strings(vocab)

	base := NewSVMClassifier(IntentClassifierName, c.toolkit)
	var oosModel string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return base.Train(gctx, baseTrainInput(input), report(0))
	})
	g.Go(func() error {
		m, err := c.trainOOS(gctx, input, vocab, report(1))
		oosModel = m
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrapf(err, "failed to train intent classifier of context %s", input.Context)
	}

	baseModel, err := base.Serialize()
	if err != nil {
		return err
	}
	exactModel, err := input.ExactIndex.ForContext(input.Context).Serialize()
	if err != nil {
		return err
	}
	model := &IntentModel{
		TrainingVocab:      vocab,
		BaseIntentClfModel: baseModel,
		OOSSVMModel:        oosModel,
		ExactMatchModel:    exactModel,
	}
	return c.setModel(input.Context, model)
}

func baseTrainInput(input IntentTrainInput) SVMTrainInput {
	var none []*utterance.Utterance
	for _, u := range input.NoneUtterances {
		words := 0
		for _, t := range u.Tokens() {
			if t.IsWord {
				words++
			}
		}
		if words >= 3 {
			none = append(none, u)
		}
	}

	var labels []Labeled
	total, trainable := 0, 0
	for _, i := range input.Intents {
		if i.Name == NoneIntent {
			continue
		}
		labels = append(labels, Labeled{Label: i.Name, Utterances: i.Utterances})
		if len(i.Utterances) >= MinNbUtterances {
			total += len(i.Utterances)
			trainable++
		}
	}

	nAvgUtts := 0
	if trainable > 0 {
		nAvgUtts = int(math.Ceil(float64(total) / float64(trainable)))
	}
	rng := tools.NewRand(input.Seed)
	rng.Shuffle(len(none), func(a, b int) { none[a], none[b] = none[b], none[a] })
	if n := int(float64(nAvgUtts) * noneRatio); n < len(none) {
		none = none[:n]
	}
	labels = append(labels, Labeled{Label: NoneIntent, Utterances: none})

	return SVMTrainInput{Labels: labels, CustomEntities: input.CustomEntities, Seed: input.Seed}
}

func (c *IntentClassifier) trainOOS(ctx context.Context, input IntentTrainInput, vocab []string, progress tools.ProgressFunc) (string, error) {
	done := func() (string, error) {
		progress(1)
		return "", nil
	}
	if !input.POSAvailable || len(input.NoneUtterances) == 0 {
		return done()
	}

	dims := embeddingDims(input.AllUtterances)
	set := vocabSet(vocab)
	var points []tools.SVMPoint
	for _, i := range input.Intents {
		if i.Name == NoneIntent {
			continue
		}
		for _, u := range i.Utterances {
			points = append(points, tools.SVMPoint{Label: i.Name, Coordinates: OOSFeatures(u, dims, set)})
		}
	}
	if len(points) == 0 || dims == 0 {
		return done()
	}
	for _, u := range input.NoneUtterances {
		points = append(points, tools.SVMPoint{Label: OOSLabel, Coordinates: OOSFeatures(u, dims, set)})
	}

	model, err := c.toolkit.NewSVMTrainer().Train(ctx, points, tools.SVMOptions{C: oosC, Seed: input.Seed}, progress)
	if err != nil {
		return "", errors.Wrap(err, "failed to train out-of-scope svm")
	}
	return model, nil
}

func (c *IntentClassifier) setModel(ctxName string, model *IntentModel) error {
	base := NewSVMClassifier(IntentClassifierName, c.toolkit)
	if err := base.Load(model.BaseIntentClfModel); err != nil {
		return err
	}
	exact, err := LoadExactMatchIndex(model.ExactMatchModel)
	if err != nil {
		return err
	}
	var oos tools.SVMPredictor
	if model.OOSSVMModel != "" {
		if oos, err = c.toolkit.NewSVMPredictor(model.OOSSVMModel); err != nil {
			return errors.NewModelLoadingError(intentClassifierDisplay, err)
		}
	}
	c.context = ctxName
	c.model = model
	c.base = base
	c.oos = oos
	c.vocab = vocabSet(model.TrainingVocab)
	c.exact = exact
	return nil
}

func (c *IntentClassifier) Serialize() (string, error) {
	if c.model == nil {
		return "", errors.Newf("%s must be trained before calling serialize", intentClassifierDisplay)
	}
	raw, err := json.Marshal(c.model)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", intentClassifierDisplay)
	}
	return string(raw), nil
}

// Load restores the classifier of context ctxName.
func (c *IntentClassifier) Load(ctxName, serialized string) error {
	var model IntentModel
	if err := json.Unmarshal([]byte(serialized), &model); err != nil {
		return errors.NewModelLoadingError(intentClassifierDisplay, err)
	}
	if model.TrainingVocab == nil {
		return errors.NewModelLoadingError(intentClassifierDisplay, errors.New("trainingVocab is required"))
	}
	if model.BaseIntentClfModel == "" {
		return errors.NewModelLoadingError(intentClassifierDisplay, errors.New("baseIntentClfModel is required"))
	}
	if err := c.setModel(ctxName, &model); err != nil {
		if errors.IsModelLoadingError(err) {
			return err
		}
		return errors.NewModelLoadingError(intentClassifierDisplay, err)
	}
	return nil
}

// Predict elects the intents of utt and the probability it is out of scope.
func (c *IntentClassifier) Predict(utt *utterance.Utterance) (Predictions, error) {
	if c.model == nil {
		return Predictions{}, errors.Newf("%s must be trained before calling predict", intentClassifierDisplay)
	}

	if intent, ok := c.exact.Match(utt, c.context); ok {
		return Renormalize(Predictions{
			Intents: []Prediction{
				{Name: intent, Confidence: 1, Extractor: ExactMatcherName},
				{Name: NoneIntent, Confidence: 0, Extractor: ExactMatcherName},
			},
		}), nil
	}

	preds, err := c.base.Predict(utt)
	if err != nil {
		return Predictions{}, err
	}

	oos := 0.0
	if c.oos != nil {
		dims := embeddingDims([]*utterance.Utterance{utt})
		oosPreds, err := c.oos.Predict(OOSFeatures(utt, dims, c.vocab))
		if err == nil {
			for _, p := range oosPreds {
				if strings.HasPrefix(p.Label, OOSLabel) && p.Confidence > oos {
					oos = p.Confidence
				}
			}
		}
	}
	return Renormalize(Predictions{Intents: preds, OOS: oos}), nil
}
