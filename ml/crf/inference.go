package crf

import "math"

func logSumExp(xs []float64) float64 {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x > maxVal {
			maxVal = x
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// lattice holds the log-space forward and backward scores of one sequence.
type lattice struct {
	state [][]float64
	trans [][]float64
	alpha [][]float64
	beta  [][]float64
	logZ  float64
}

func (m *Model) forwardBackward(features []map[string]float64) *lattice {
	T, L := len(features), m.NumLabels
	lat := &lattice{
		state: m.ComputeStateScores(features),
		trans: m.ComputeTransScores(),
		alpha: make([][]float64, T),
		beta:  make([][]float64, T),
	}

	buf := make([]float64, L)
	for t := 0; t < T; t++ {
		lat.alpha[t] = make([]float64, L)
		for y := 0; y < L; y++ {
			if t == 0 {
				lat.alpha[t][y] = lat.state[t][y]
				continue
			}
			for yp := 0; yp < L; yp++ {
				buf[yp] = lat.alpha[t-1][yp] + lat.trans[yp][y]
			}
			lat.alpha[t][y] = logSumExp(buf) + lat.state[t][y]
		}
	}

	for t := T - 1; t >= 0; t-- {
		lat.beta[t] = make([]float64, L)
		if t == T-1 {
			continue
		}
		for y := 0; y < L; y++ {
			for yn := 0; yn < L; yn++ {
				buf[yn] = lat.trans[y][yn] + lat.state[t+1][yn] + lat.beta[t+1][yn]
			}
			lat.beta[t][y] = logSumExp(buf)
		}
	}

	if T > 0 {
		lat.logZ = logSumExp(lat.alpha[T-1])
	}
	return lat
}

// marginal is p(y_t = y | x).
func (lat *lattice) marginal(t, y int) float64 {
	return math.Exp(lat.alpha[t][y] + lat.beta[t][y] - lat.logZ)
}

// pairMarginal is p(y_{t-1} = yp, y_t = y | x).
func (lat *lattice) pairMarginal(t, yp, y int) float64 {
	return math.Exp(lat.alpha[t-1][yp] + lat.trans[yp][y] + lat.state[t][y] + lat.beta[t][y] - lat.logZ)
}

// Viterbi returns the best label path and its log score.
func (m *Model) Viterbi(features []map[string]float64) ([]int, float64) {
	T, L := len(features), m.NumLabels
	if T == 0 {
		return nil, 0
	}
	state := m.ComputeStateScores(features)
	trans := m.ComputeTransScores()

	delta := make([][]float64, T)
	back := make([][]int, T)
	for t := 0; t < T; t++ {
		delta[t] = make([]float64, L)
		back[t] = make([]int, L)
		for y := 0; y < L; y++ {
			if t == 0 {
				delta[t][y] = state[t][y]
				continue
			}
			best, bestScore := 0, math.Inf(-1)
			for yp := 0; yp < L; yp++ {
				if s := delta[t-1][yp] + trans[yp][y]; s > bestScore {
					best, bestScore = yp, s
				}
			}
			delta[t][y] = bestScore + state[t][y]
			back[t][y] = best
		}
	}

	path := make([]int, T)
	bestScore := math.Inf(-1)
	for y := 0; y < L; y++ {
		if delta[T-1][y] > bestScore {
			bestScore = delta[T-1][y]
			path[T-1] = y
		}
	}
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path, bestScore
}

// Tagger labels sequences with a trained model.
type Tagger struct {
	model *Model
}

// NewTagger parses a serialized model.
func NewTagger(serialized string) (*Tagger, error) {
	m, err := Unmarshal(serialized)
	if err != nil {
		return nil, err
	}
	return &Tagger{model: m}, nil
}

// Tag returns the most likely labels and the probability of that path.
func (tg *Tagger) Tag(features [][]string) ([]string, float64) {
	feats := ParseFeatures(features)
	path, score := tg.model.Viterbi(feats)
	if len(path) == 0 {
		return nil, 0
	}
	lat := tg.model.forwardBackward(feats)
	labels := make([]string, len(path))
	for t, y := range path {
		labels[t] = tg.model.Labels.ToStr[y]
	}
	return labels, math.Exp(score - lat.logZ)
}

// Marginal returns the per-position label marginals.
func (tg *Tagger) Marginal(features [][]string) []map[string]float64 {
	feats := ParseFeatures(features)
	lat := tg.model.forwardBackward(feats)
	out := make([]map[string]float64, len(feats))
	for t := range feats {
		out[t] = make(map[string]float64, tg.model.NumLabels)
		for y, label := range tg.model.Labels.ToStr {
			out[t][label] = lat.marginal(t, y)
		}
	}
	return out
}
