package crf

import (
	"context"
	"math"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/tools"
)

const (
	learningRate     = 0.1
	stopDelta        = 1e-5
	stopPatience     = 3
	defaultMaxEpochs = 100
)

// Trainer fits a CRF with stochastic gradient descent and elastic net regularization.
type Trainer struct{}

// NewTrainer returns a CRF trainer.
func NewTrainer() *Trainer {
	return &Trainer{}
}

type encodedSequence struct {
	features []map[string]float64
	attrIDs  [][]int
	attrVals [][]float64
	labels   []int
}

// Train returns the serialized model fitted on sequences.
func (tr *Trainer) Train(ctx context.Context, sequences []tools.CRFSequence, opts tools.CRFOptions, progress tools.ProgressFunc) (string, error) {
	m := NewModel()
	var data []encodedSequence

	for i, seq := range sequences {
		if len(seq.Features) != len(seq.Labels) {
			return "", errors.Newf("crf sequence %d has %d feature sets for %d labels", i, len(seq.Features), len(seq.Labels))
		}
		if len(seq.Labels) == 0 {
			continue
		}
		enc := encodedSequence{features: ParseFeatures(seq.Features)}
		for t, feats := range enc.features {
			enc.labels = append(enc.labels, m.Labels.Add(seq.Labels[t]))
			var ids []int
			var vals []float64
			for _, attr := range distinctAttrs(seq.Features[t]) {
				ids = append(ids, m.Attributes.Add(attr))
				vals = append(vals, feats[attr])
			}
			enc.attrIDs = append(enc.attrIDs, ids)
			enc.attrVals = append(enc.attrVals, vals)
		}
		data = append(data, enc)
	}
	if len(data) == 0 {
		return "", errors.New("crf needs at least one non empty sequence")
	}

	m.NumLabels = m.Labels.Size()
	m.Weights = make([]float64, m.NumWeights())

	// diagonal preconditioning: boosted attributes take proportionally smaller steps
	scale := make([]float64, m.Attributes.Size())
	for i := range scale {
		scale[i] = 1
	}
	for _, enc := range data {
		for t, ids := range enc.attrIDs {
			for k, id := range ids {
				if v := enc.attrVals[t][k] * enc.attrVals[t][k]; v > scale[id] {
					scale[id] = v
				}
			}
		}
	}

	maxEpochs := opts.MaxIterations
	if maxEpochs <= 0 {
		maxEpochs = defaultMaxEpochs
	}
	rng := tools.NewRand(opts.Seed)
	n := float64(len(data))

	prevLoss := math.Inf(1)
	stale := 0
	for epoch := 0; epoch < maxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(err, "crf training interrupted")
		}

		eta := learningRate / (1 + float64(epoch)/10)
		loss := 0.0
		for _, idx := range rng.Perm(len(data)) {
			loss += m.sgdStep(&data[idx], eta, scale)
		}

		// elastic net, spread over the epoch
		decay := 1 - eta*2*opts.C2
		if decay < 0 {
			decay = 0
		}
		threshold := eta * opts.C1
		for i, w := range m.Weights {
			w *= decay
			switch {
			case w > threshold:
				w -= threshold
			case w < -threshold:
				w += threshold
			default:
				w = 0
			}
			m.Weights[i] = w
		}

		if progress != nil {
			progress(float64(epoch+1) / float64(maxEpochs))
		}

		loss /= n
		if prevLoss-loss < stopDelta*math.Max(1, math.Abs(prevLoss)) {
			stale++
			if stale >= stopPatience {
				break
			}
		} else {
			stale = 0
		}
		prevLoss = loss
	}

	if progress != nil {
		progress(1)
	}
	return m.Marshal()
}

// sgdStep applies one gradient step for seq and returns its negative log likelihood.
func (m *Model) sgdStep(seq *encodedSequence, eta float64, scale []float64) float64 {
	lat := m.forwardBackward(seq.features)
	L := m.NumLabels
	T := len(seq.labels)

	gold := 0.0
	for t := 0; t < T; t++ {
		gold += lat.state[t][seq.labels[t]]
		if t > 0 {
			gold += lat.trans[seq.labels[t-1]][seq.labels[t]]
		}
	}
	nll := lat.logZ - gold

	for t := 0; t < T; t++ {
		marg := make([]float64, L)
		for y := 0; y < L; y++ {
			marg[y] = lat.marginal(t, y)
		}
		for k, attrID := range seq.attrIDs[t] {
			step := eta * seq.attrVals[t][k] / scale[attrID]
			m.Weights[m.StateFeatureIndex(attrID, seq.labels[t])] += step
			for y := 0; y < L; y++ {
				m.Weights[m.StateFeatureIndex(attrID, y)] -= step * marg[y]
			}
		}
		if t == 0 {
			continue
		}
		m.Weights[m.TransFeatureIndex(seq.labels[t-1], seq.labels[t])] += eta
		for yp := 0; yp < L; yp++ {
			for y := 0; y < L; y++ {
				m.Weights[m.TransFeatureIndex(yp, y)] -= eta * lat.pairMarginal(t, yp, y)
			}
		}
	}
	return nll
}

// distinctAttrs returns the distinct attribute names of one position in input order.
func distinctAttrs(attrs []string) []string {
	seen := make(map[string]struct{}, len(attrs))
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		name, _ := ParseAttribute(a)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
