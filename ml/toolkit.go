// Package ml bundles the default pure-Go learners behind tools.MLToolkit.
package ml

import (
	"context"

	"github.com/teranos/nlu/ml/crf"
	"github.com/teranos/nlu/ml/kmeans"
	"github.com/teranos/nlu/ml/svm"
	"github.com/teranos/nlu/tools"
)

// Toolkit is the default MLToolkit.
type Toolkit struct{}

// NewToolkit returns the default learners.
func NewToolkit() *Toolkit {
	return &Toolkit{}
}

var _ tools.MLToolkit = (*Toolkit)(nil)

func (Toolkit) NewSVMTrainer() tools.SVMTrainer {
	return svm.NewTrainer()
}

func (Toolkit) NewSVMPredictor(model string) (tools.SVMPredictor, error) {
	return svm.NewPredictor(model)
}

func (Toolkit) NewCRFTrainer() tools.CRFTrainer {
	return crf.NewTrainer()
}

func (Toolkit) NewCRFTagger(model string) (tools.CRFTagger, error) {
	return crf.NewTagger(model)
}

func (Toolkit) KMeans(ctx context.Context, data [][]float64, opts tools.KMeansOptions) (*tools.KMeansModel, error) {
	return kmeans.Fit(ctx, data, opts)
}
