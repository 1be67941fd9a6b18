package intents

import (
	"context"

	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// ContextClassifierName is the extractor of context predictions.
const ContextClassifierName = "context-classifier"

// ContextClassifier predicts the context of an utterance among the
// contexts of a model. A model with a single context always predicts it.
type ContextClassifier struct {
	svm *SVMClassifier
}

// ContextTrainInput is the input of ContextClassifier.Train.
type ContextTrainInput struct {
	Contexts       []string
	Intents        []*Intent
	CustomEntities []string
	Seed           int64
}

func NewContextClassifier(toolkit tools.MLToolkit) *ContextClassifier {
	return &ContextClassifier{svm: NewSVMClassifier(ContextClassifierName, toolkit)}
}

// Train learns one label per context from the utterances of its intents.
func (c *ContextClassifier) Train(ctx context.Context, input ContextTrainInput, progress tools.ProgressFunc) error {
	labels := make([]Labeled, len(input.Contexts))
	for i, name := range input.Contexts {
		labels[i] = Labeled{Label: name, Utterances: ContextUtterances(input.Intents, name)}
	}
	return c.svm.Train(ctx, SVMTrainInput{
		Labels:         labels,
		CustomEntities: input.CustomEntities,
		Seed:           input.Seed,
	}, progress)
}

func (c *ContextClassifier) Serialize() (string, error) { return c.svm.Serialize() }

func (c *ContextClassifier) Load(serialized string) error { return c.svm.Load(serialized) }

// Predict returns a confidence per context, highest first.
func (c *ContextClassifier) Predict(utt *utterance.Utterance) ([]Prediction, error) {
	return c.svm.Predict(utt)
}
