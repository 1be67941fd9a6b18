// Package svm implements a linear one-vs-rest support vector machine trained
// by dual coordinate descent, with softmax-calibrated confidences.
package svm

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/tools"
)

const (
	// DefaultC is the penalty used when options leave C at zero.
	DefaultC = 1.0
	// DefaultEpochs bounds the coordinate descent passes.
	DefaultEpochs = 200
	// probabilityScale sharpens decision values before the softmax.
	probabilityScale = 4.0
	tolerance        = 0.01
)

// Model is the serialized form of a trained SVM.
type Model struct {
	Labels     []string    `json:"labels"`
	Dimensions int         `json:"dimensions"`
	Weights    [][]float64 `json:"weights"` // per label, bias last
	Scale      float64     `json:"scale"`
}

// Validate checks the model structure.
func (m *Model) Validate() error {
	if len(m.Labels) == 0 {
		return errors.New("svm model has no labels")
	}
	if m.Dimensions <= 0 {
		return errors.Newf("svm model has invalid dimensions %d", m.Dimensions)
	}
	if len(m.Weights) != len(m.Labels) {
		return errors.Newf("svm model has %d weight vectors for %d labels", len(m.Weights), len(m.Labels))
	}
	for i, w := range m.Weights {
		if len(w) != m.Dimensions+1 {
			return errors.Newf("svm weight vector %d has length %d, expected %d", i, len(w), m.Dimensions+1)
		}
		for _, x := range w {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return errors.Newf("svm weight vector %d is not finite", i)
			}
		}
	}
	return nil
}

// Trainer trains linear SVMs.
type Trainer struct{}

// NewTrainer returns an SVM trainer.
func NewTrainer() *Trainer {
	return &Trainer{}
}

// Train fits one binary classifier per label and returns the JSON model.
func (t *Trainer) Train(ctx context.Context, points []tools.SVMPoint, opts tools.SVMOptions, progress tools.ProgressFunc) (string, error) {
	if len(points) == 0 {
		return "", errors.New("svm needs at least one training point")
	}
	dims := len(points[0].Coordinates)
	if dims == 0 {
		return "", errors.New("svm training points have no coordinates")
	}

	labelSet := make(map[string]struct{})
	for i, p := range points {
		if len(p.Coordinates) != dims {
			return "", errors.Newf("svm point %d has %d coordinates, expected %d", i, len(p.Coordinates), dims)
		}
		labelSet[p.Label] = struct{}{}
	}
	labels := util.SortedKeys(labelSet)
	if len(labels) < 2 {
		return "", errors.Newf("svm needs at least 2 labels, got %d", len(labels))
	}

	c := opts.C
	if c <= 0 {
		c = DefaultC
	}
	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}

	// augmented samples with a constant bias feature
	xs := make([][]float64, len(points))
	qii := make([]float64, len(points))
	for i, p := range points {
		x := make([]float64, dims+1)
		copy(x, p.Coordinates)
		x[dims] = 1
		xs[i] = x
		qii[i] = util.Dot(x, x)
	}

	model := &Model{Labels: labels, Dimensions: dims, Scale: probabilityScale}
	rng := tools.NewRand(opts.Seed)
	for li, label := range labels {
		ys := make([]float64, len(points))
		for i, p := range points {
			if p.Label == label {
				ys[i] = 1
			} else {
				ys[i] = -1
			}
		}
		w, err := dualCoordinateDescent(ctx, xs, ys, qii, c, epochs, rng)
		if err != nil {
			return "", err
		}
		model.Weights = append(model.Weights, w)
		if progress != nil {
			progress(float64(li+1) / float64(len(labels)))
		}
	}

	raw, err := json.Marshal(model)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize svm model")
	}
	return string(raw), nil
}

// dualCoordinateDescent solves the L2-regularized hinge loss problem.
func dualCoordinateDescent(ctx context.Context, xs [][]float64, ys, qii []float64, c float64, epochs int, rng *rand.Rand) ([]float64, error) {
	n := len(xs)
	w := make([]float64, len(xs[0]))
	alpha := make([]float64, n)

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "svm training interrupted")
		}

		maxPG, minPG := math.Inf(-1), math.Inf(1)
		for _, i := range rng.Perm(n) {
			if qii[i] == 0 {
				continue
			}
			g := ys[i]*util.Dot(w, xs[i]) - 1

			pg := g
			switch {
			case alpha[i] == 0:
				pg = math.Min(g, 0)
			case alpha[i] == c:
				pg = math.Max(g, 0)
			}
			maxPG = math.Max(maxPG, pg)
			minPG = math.Min(minPG, pg)

			if math.Abs(pg) < 1e-12 {
				continue
			}
			old := alpha[i]
			alpha[i] = math.Min(math.Max(old-g/qii[i], 0), c)
			delta := (alpha[i] - old) * ys[i]
			for j, x := range xs[i] {
				w[j] += delta * x
			}
		}

		if epoch > 0 && maxPG-minPG < tolerance {
			break
		}
	}
	return w, nil
}

// Predictor scores coordinates with a trained model.
type Predictor struct {
	model *Model
}

// NewPredictor parses and validates a serialized model.
func NewPredictor(serialized string) (*Predictor, error) {
	var m Model
	if err := json.Unmarshal([]byte(serialized), &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse svm model")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Scale <= 0 {
		m.Scale = probabilityScale
	}
	return &Predictor{model: &m}, nil
}

// Labels returns the labels known by the model.
func (p *Predictor) Labels() []string {
	return append([]string(nil), p.model.Labels...)
}

// Predict returns one confidence per label, highest first. Confidences sum to 1.
func (p *Predictor) Predict(coordinates []float64) ([]tools.Prediction, error) {
	m := p.model
	if len(coordinates) != m.Dimensions {
		return nil, errors.Newf("svm expects %d coordinates, got %d", m.Dimensions, len(coordinates))
	}

	scores := make([]float64, len(m.Labels))
	for i, w := range m.Weights {
		scores[i] = (util.Dot(w[:m.Dimensions], coordinates) + w[m.Dimensions]) * m.Scale
	}
	probs := util.Softmax(scores)

	preds := make([]tools.Prediction, len(m.Labels))
	for i, label := range m.Labels {
		preds[i] = tools.Prediction{Label: label, Confidence: probs[i]}
	}
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Confidence > preds[j].Confidence
	})
	return preds, nil
}
