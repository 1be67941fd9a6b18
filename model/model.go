package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/pipeline"
)

// Model is the wire format of a trained model. Input and Output are
// serialized independently so a warm training only rewrites Output.
type Model struct {
	ID
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Data       Data      `json:"data"`
}

// Data holds the JSON encoded training input and output.
type Data struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// PredictableModel is a deserialized Model.
type PredictableModel struct {
	ID         ID
	StartedAt  time.Time
	FinishedAt time.Time
	Input      pipeline.TrainInput
	Output     pipeline.TrainOutput
}

// Serialize encodes m into its wire format.
func Serialize(m PredictableModel) (Model, error) {
	input, err := json.Marshal(m.Input)
	if err != nil {
		return Model{}, errors.Wrapf(err, "failed to serialize input of model %s", m.ID)
	}
	output, err := json.Marshal(m.Output)
	if err != nil {
		return Model{}, errors.Wrapf(err, "failed to serialize output of model %s", m.ID)
	}
	return Model{
		ID:         m.ID,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Data:       Data{Input: string(input), Output: string(output)},
	}, nil
}

// Deserialize decodes and validates m. Any structural problem is
// reported as a ModelLoadingError.
func Deserialize(m Model) (*PredictableModel, error) {
	if !IsID(m.ID.String()) {
		return nil, errors.NewModelLoadingError("model", errors.Newf("invalid model id %q", m.ID.String()))
	}
	if m.StartedAt.IsZero() || m.FinishedAt.IsZero() {
		return nil, errors.NewModelLoadingError("model", errors.Newf("model %s has no training timestamps", m.ID))
	}

	var input pipeline.TrainInput
	if err := decodeStrict(m.Data.Input, &input); err != nil {
		return nil, errors.NewModelLoadingError("model input", err)
	}
	if err := validateInput(m.ID, input); err != nil {
		return nil, errors.NewModelLoadingError("model input", err)
	}

	var output pipeline.TrainOutput
	if err := decodeStrict(m.Data.Output, &output); err != nil {
		return nil, errors.NewModelLoadingError("model output", err)
	}
	if err := validateOutput(output); err != nil {
		return nil, errors.NewModelLoadingError("model output", err)
	}

	return &PredictableModel{
		ID:         m.ID,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Input:      input,
		Output:     output,
	}, nil
}

// Marshal encodes m as JSON.
func (m Model) Marshal() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode model %s", m.ID)
	}
	return raw, nil
}

// Unmarshal decodes a JSON encoded Model.
func Unmarshal(raw []byte) (Model, error) {
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return Model{}, errors.NewModelLoadingError("model", err)
	}
	return m, nil
}

func decodeStrict(raw string, v any) error {
	if raw == "" {
		return errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func validateInput(id ID, input pipeline.TrainInput) error {
	if input.LanguageCode != id.LanguageCode {
		return errors.Newf("input language %q does not match model language %q", input.LanguageCode, id.LanguageCode)
	}
	for i, intent := range input.Intents {
		if intent.Name == "" {
			return errors.Newf("intent %d has no name", i)
		}
		for _, slot := range intent.SlotDefinitions {
			if slot.Name == "" {
				return errors.Newf("intent %s has an unnamed slot", intent.Name)
			}
		}
	}
	for _, list := range input.ListEntities {
		if list.Name == "" {
			return errors.New("list entity has no name")
		}
	}
	for _, pattern := range input.PatternEntities {
		if pattern.Name == "" {
			return errors.New("pattern entity has no name")
		}
	}
	return nil
}

func validateOutput(output pipeline.TrainOutput) error {
	if output.CtxModel == "" {
		return errors.New("missing context model")
	}
	if output.Tfidf == nil || output.Vocab == nil {
		return errors.New("missing tfidf or vocabulary")
	}
	if output.IntentModelByCtx == nil || output.SlotModelByIntent == nil {
		return errors.New("missing intent or slot models")
	}
	dims := -1
	for token, vec := range output.Vocab {
		if dims == -1 {
			dims = len(vec)
		}
		if len(vec) != dims {
			return errors.Newf("vector of %q has %d dimensions, expected %d", token, len(vec), dims)
		}
	}
	known := make(map[string]bool, len(output.Contexts))
	for _, ctx := range output.Contexts {
		known[ctx] = true
	}
	for ctx, m := range output.IntentModelByCtx {
		if !known[ctx] {
			return errors.Newf("intent model for unknown context %q", ctx)
		}
		if m == "" {
			return errors.Newf("empty intent model for context %q", ctx)
		}
	}
	for _, list := range output.ListEntities {
		if err := list.Validate(); err != nil {
			return err
		}
	}
	if output.Kmeans != nil && len(output.Kmeans.Centroids) == 0 {
		return errors.New("kmeans model has no centroid")
	}
	return nil
}
