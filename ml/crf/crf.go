// Package crf implements a linear-chain Conditional Random Field.
package crf

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/teranos/nlu/errors"
)

// Alphabet maps between string labels/attributes and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"-"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

func (a *Alphabet) reindex() error {
	a.ToID = make(map[string]int, len(a.ToStr))
	for i, s := range a.ToStr {
		if _, dup := a.ToID[s]; dup {
			return errors.Newf("duplicate alphabet entry %q", s)
		}
		a.ToID[s] = i
	}
	return nil
}

// Model holds the CRF parameters.
//
// Weight layout: [state_features... | transition_features...]
// State feature index: attrID * numLabels + labelID
// Transition feature index: transOffset + fromLabelID * numLabels + toLabelID
type Model struct {
	Labels     *Alphabet `json:"labels"`
	Attributes *Alphabet `json:"attributes"`
	Weights    []float64 `json:"weights"`
	NumLabels  int       `json:"num_labels"`
}

// NewModel creates a new empty model.
func NewModel() *Model {
	return &Model{
		Labels:     NewAlphabet(),
		Attributes: NewAlphabet(),
	}
}

// TransOffset returns the offset where transition features start in the weight vector.
func (m *Model) TransOffset() int {
	return m.Attributes.Size() * m.NumLabels
}

// NumWeights returns the total number of weights.
func (m *Model) NumWeights() int {
	return m.TransOffset() + m.NumLabels*m.NumLabels
}

// StateFeatureIndex returns the weight index for a state feature.
func (m *Model) StateFeatureIndex(attrID, labelID int) int {
	return attrID*m.NumLabels + labelID
}

// TransFeatureIndex returns the weight index for a transition feature.
func (m *Model) TransFeatureIndex(fromLabelID, toLabelID int) int {
	return m.TransOffset() + fromLabelID*m.NumLabels + toLabelID
}

// Marshal serializes the model as JSON.
func (m *Model) Marshal() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize crf model")
	}
	return string(raw), nil
}

// Unmarshal parses and validates a serialized model.
func Unmarshal(serialized string) (*Model, error) {
	var m Model
	if err := json.Unmarshal([]byte(serialized), &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse crf model")
	}
	if m.Labels == nil || m.Attributes == nil {
		return nil, errors.New("crf model is missing its alphabets")
	}
	if err := m.Labels.reindex(); err != nil {
		return nil, errors.Wrap(err, "invalid crf labels")
	}
	if err := m.Attributes.reindex(); err != nil {
		return nil, errors.Wrap(err, "invalid crf attributes")
	}
	if m.NumLabels != m.Labels.Size() || m.NumLabels == 0 {
		return nil, errors.Newf("crf model declares %d labels but has %d", m.NumLabels, m.Labels.Size())
	}
	if len(m.Weights) != m.NumWeights() {
		return nil, errors.Newf("crf model has %d weights, expected %d", len(m.Weights), m.NumWeights())
	}
	for _, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errors.New("crf model has non finite weights")
		}
	}
	return &m, nil
}

// ParseAttribute splits "name:weight" into its parts. Attributes without a
// numeric suffix weigh 1.
func ParseAttribute(attr string) (string, float64) {
	idx := strings.LastIndex(attr, ":")
	if idx <= 0 || idx == len(attr)-1 {
		return attr, 1
	}
	w, err := strconv.ParseFloat(attr[idx+1:], 64)
	if err != nil {
		return attr, 1
	}
	return attr[:idx], w
}

// ParseFeatures converts attribute strings to per-position feature dicts.
func ParseFeatures(features [][]string) []map[string]float64 {
	out := make([]map[string]float64, len(features))
	for t, attrs := range features {
		out[t] = make(map[string]float64, len(attrs))
		for _, a := range attrs {
			name, w := ParseAttribute(a)
			out[t][name] += w
		}
	}
	return out
}

// ComputeStateScores computes state feature scores for each position and label.
// Returns [T][L] matrix where T is sequence length and L is number of labels.
func (m *Model) ComputeStateScores(features []map[string]float64) [][]float64 {
	T := len(features)
	L := m.NumLabels
	scores := make([][]float64, T)
	for t := range T {
		scores[t] = make([]float64, L)
		for attr, val := range features[t] {
			attrID := m.Attributes.Get(attr)
			if attrID < 0 {
				continue
			}
			for y := range L {
				idx := m.StateFeatureIndex(attrID, y)
				if idx < len(m.Weights) {
					scores[t][y] += m.Weights[idx] * val
				}
			}
		}
	}
	return scores
}

// ComputeTransScores returns the [L][L] transition score matrix.
func (m *Model) ComputeTransScores() [][]float64 {
	L := m.NumLabels
	trans := make([][]float64, L)
	for i := range L {
		trans[i] = make([]float64, L)
		for j := range L {
			idx := m.TransFeatureIndex(i, j)
			if idx < len(m.Weights) {
				trans[i][j] = m.Weights[idx]
			}
		}
	}
	return trans
}
