package tools

import (
	"context"
	"math"

	"github.com/teranos/nlu/internal/util"
)

// ProgressFunc receives a progress value in [0, 1].
type ProgressFunc func(progress float64)

// MLToolkit constructs the classical learners used by the classifier cascade.
// Models are exchanged as opaque serialized strings.
type MLToolkit interface {
	NewSVMTrainer() SVMTrainer
	NewSVMPredictor(model string) (SVMPredictor, error)
	NewCRFTrainer() CRFTrainer
	NewCRFTagger(model string) (CRFTagger, error)
	KMeans(ctx context.Context, data [][]float64, opts KMeansOptions) (*KMeansModel, error)
}

// SVMPoint is one labeled training sample.
type SVMPoint struct {
	Label       string    `json:"label"`
	Coordinates []float64 `json:"coordinates"`
}

// SVMOptions configures SVM training. Zero values select the learner defaults.
type SVMOptions struct {
	C      float64
	Epochs int
	Seed   int64
}

// Prediction is a label with its confidence.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// SVMTrainer trains a multi-class classifier and returns its serialized model.
type SVMTrainer interface {
	Train(ctx context.Context, points []SVMPoint, opts SVMOptions, progress ProgressFunc) (string, error)
}

// SVMPredictor returns a probability per label, sorted by decreasing confidence.
type SVMPredictor interface {
	Predict(coordinates []float64) ([]Prediction, error)
	Labels() []string
}

// CRFOptions configures CRF training.
type CRFOptions struct {
	C1            float64
	C2            float64
	MaxIterations int
	Seed          int64
}

// CRFSequence is one labeled sequence. Each feature is an attribute string,
// optionally suffixed with ":<weight>".
type CRFSequence struct {
	Features [][]string `json:"features"`
	Labels   []string   `json:"labels"`
}

// CRFTrainer trains a sequence tagger and returns its serialized model.
type CRFTrainer interface {
	Train(ctx context.Context, sequences []CRFSequence, opts CRFOptions, progress ProgressFunc) (string, error)
}

// CRFTagger labels sequences of feature sets.
type CRFTagger interface {
	Tag(features [][]string) (labels []string, probability float64)
	// Marginal returns, per position, the marginal probability of every label.
	Marginal(features [][]string) []map[string]float64
}

// KMeansOptions configures clustering.
type KMeansOptions struct {
	K             int
	MaxIterations int
	Seed          int64
}

// KMeansModel is a trained clustering.
type KMeansModel struct {
	Centroids  [][]float64 `json:"centroids"`
	Iterations int         `json:"iterations"`
}

// Nearest assigns each point to its closest centroid.
func (k *KMeansModel) Nearest(points [][]float64) []int {
	out := make([]int, len(points))
	for i, p := range points {
		best, bestDist := 0, math.MaxFloat64
		for c, centroid := range k.Centroids {
			if d := util.SquaredDistance(p, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		out[i] = best
	}
	return out
}
