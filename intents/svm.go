package intents

import (
	"context"
	"encoding/json"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// Labeled is the training data of one SVM label.
type Labeled struct {
	Label      string
	Utterances []*utterance.Utterance
}

// SVMTrainInput is the input of SVMClassifier.Train.
type SVMTrainInput struct {
	Labels         []Labeled
	CustomEntities []string
	Seed           int64
	C              float64
}

type svmClassifierModel struct {
	SVMModel       string   `json:"svmModel,omitempty"`
	Labels         []string `json:"labels"`
	Trainable      []string `json:"trainableLabels"`
	CustomEntities []string `json:"entitiesName"`
	Dimensions     int      `json:"dimensions"`
}

// SVMClassifier is an SVM over sentence embeddings and custom entity
// counts. Labels need MinNbUtterances utterances to be trainable. With
// fewer than two trainable labels nothing is trained: a single trainable
// label is always predicted, otherwise the distribution is uniform.
type SVMClassifier struct {
	name      string
	toolkit   tools.MLToolkit
	model     *svmClassifierModel
	predictor tools.SVMPredictor
}

// NewSVMClassifier returns an untrained classifier. name is the extractor
// reported with every prediction.
func NewSVMClassifier(name string, toolkit tools.MLToolkit) *SVMClassifier {
	return &SVMClassifier{name: name, toolkit: toolkit}
}

func (c *SVMClassifier) Train(ctx context.Context, input SVMTrainInput, progress tools.ProgressFunc) error {
	var all []*utterance.Utterance
	labels := make([]string, 0, len(input.Labels))
	for _, l := range input.Labels {
		labels = append(labels, l.Label)
		all = append(all, l.Utterances...)
	}
	model := &svmClassifierModel{
		Labels:         labels,
		CustomEntities: append([]string{}, input.CustomEntities...),
		Dimensions:     embeddingDims(all),
	}

	var points []tools.SVMPoint
	model.Trainable = []string{}
	for _, l := range input.Labels {
		if len(l.Utterances) < MinNbUtterances {
			continue
		}
		model.Trainable = append(model.Trainable, l.Label)
		for _, u := range l.Utterances {
			points = append(points, tools.SVMPoint{
				Label:       l.Label,
				Coordinates: Featurize(u, model.Dimensions, model.CustomEntities),
			})
		}
	}

	if len(model.Trainable) < 2 || model.Dimensions == 0 {
		c.model = model
		if progress != nil {
			progress(1)
		}
		return nil
	}

	serialized, err := c.toolkit.NewSVMTrainer().Train(ctx, points, tools.SVMOptions{C: input.C, Seed: input.Seed}, progress)
	if err != nil {
		return errors.Wrapf(err, "failed to train %s", c.name)
	}
	model.SVMModel = serialized
	predictor, err := c.toolkit.NewSVMPredictor(serialized)
	if err != nil {
		return errors.Wrapf(err, "failed to load freshly trained %s", c.name)
	}
	c.model = model
	c.predictor = predictor
	return nil
}

func (c *SVMClassifier) Serialize() (string, error) {
	if c.model == nil {
		return "", errors.Newf("%s must be trained before calling serialize", c.name)
	}
	raw, err := json.Marshal(c.model)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", c.name)
	}
	return string(raw), nil
}

// Load restores a serialized classifier. Any structural problem is a
// ModelLoadingError.
func (c *SVMClassifier) Load(serialized string) error {
	var model svmClassifierModel
	if err := json.Unmarshal([]byte(serialized), &model); err != nil {
		return errors.NewModelLoadingError(c.name, err)
	}
	if model.Labels == nil {
		return errors.NewModelLoadingError(c.name, errors.New("labels are required"))
	}
	if model.Dimensions < 0 {
		return errors.NewModelLoadingError(c.name, errors.Newf("invalid dimensions %d", model.Dimensions))
	}
	var predictor tools.SVMPredictor
	if model.SVMModel != "" {
		p, err := c.toolkit.NewSVMPredictor(model.SVMModel)
		if err != nil {
			return errors.NewModelLoadingError(c.name, err)
		}
		predictor = p
	}
	c.model = &model
	c.predictor = predictor
	return nil
}

// Labels returns every label the classifier was trained with.
func (c *SVMClassifier) Labels() []string {
	if c.model == nil {
		return nil
	}
	return c.model.Labels
}

// Predict scores every label, highest first.
func (c *SVMClassifier) Predict(utt *utterance.Utterance) ([]Prediction, error) {
	if c.model == nil {
		return nil, errors.Newf("%s must be trained before calling predict", c.name)
	}
	labels := c.model.Labels
	if c.predictor == nil {
		if len(labels) == 0 {
			return []Prediction{}, nil
		}
		return c.fallback(), nil
	}

	preds, err := c.predictor.Predict(Featurize(utt, c.model.Dimensions, c.model.CustomEntities))
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed to predict", c.name)
	}
	out := make([]Prediction, 0, len(labels))
	scored := map[string]bool{}
	for _, p := range preds {
		out = append(out, Prediction{Name: p.Label, Confidence: p.Confidence, Extractor: c.name})
		scored[p.Label] = true
	}
	// labels without enough utterances were never learned
	for _, l := range labels {
		if !scored[l] {
			out = append(out, Prediction{Name: l, Confidence: 0, Extractor: c.name})
		}
	}
	return out, nil
}

func (c *SVMClassifier) fallback() []Prediction {
	labels := c.model.Labels
	out := make([]Prediction, 0, len(labels))
	if len(c.model.Trainable) == 1 {
		only := c.model.Trainable[0]
		out = append(out, Prediction{Name: only, Confidence: 1, Extractor: c.name})
		for _, l := range labels {
			if l != only {
				out = append(out, Prediction{Name: l, Confidence: 0, Extractor: c.name})
			}
		}
		return out
	}
	for _, l := range labels {
		out = append(out, Prediction{Name: l, Confidence: 1 / float64(len(labels)), Extractor: c.name})
	}
	return out
}
