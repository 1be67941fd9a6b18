// Package slots tags slot values in utterances with a linear-chain CRF
// trained per intent.
package slots

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// BIO tags.
const (
	TagBeginning = "B"
	TagInside    = "I"
	TagOut       = "O"
)

// anySuffix marks slot tokens that carry no entity.
const anySuffix = "/any"

// MinSlotConfidence is the marginal under which a slot tag becomes O.
const MinSlotConfidence = 0.15

const taggerName = "CRF slot tagger"

// CRF hyper-parameters.
var crfOptions = tools.CRFOptions{C1: 0.0001, C2: 0.01, MaxIterations: 500}

// Model is the serialized form of a Tagger.
type Model struct {
	CRFModel        string                   `json:"crfModel,omitempty"`
	IntentFeatures  IntentFeatures           `json:"intentFeatures"`
	SlotDefinitions []intents.SlotDefinition `json:"slot_definitions"`
}

// TrainInput is the input of Tagger.Train.
type TrainInput struct {
	Intent       *intents.Intent
	ListEntities []*entities.ListEntityModel
	Seed         int64
}

// Extraction is a slot found by the tagger with its character range.
type Extraction struct {
	Slot  utterance.ExtractedSlot `json:"slot"`
	Start int                     `json:"start"`
	End   int                     `json:"end"`
}

// Tagger extracts the slots of one intent.
type Tagger struct {
	toolkit tools.MLToolkit
	model   *Model
	crf     tools.CRFTagger
}

func NewTagger(toolkit tools.MLToolkit) *Tagger {
	return &Tagger{toolkit: toolkit}
}

// Labelize returns the BIO label of every non-space token of utt.
func Labelize(utt *utterance.Utterance) []string {
	var labels []string
	for _, t := range utt.Tokens() {
		if t.IsSpace {
			continue
		}
		slots := t.Slots()
		if len(slots) == 0 {
			labels = append(labels, TagOut)
			continue
		}
		slot := slots[0]
		tag := TagInside
		if slot.StartTokenIdx == t.Index {
			tag = TagBeginning
		}
		suffix := ""
		if len(t.Entities()) == 0 {
			suffix = anySuffix
		}
		labels = append(labels, tag+"-"+slot.Name+suffix)
	}
	return labels
}

func intentFeatures(intent *intents.Intent, lists []*entities.ListEntityModel) IntentFeatures {
	slotEntities := intent.SlotEntities()
	vocab := vocabOf(intent.Utterances)
	seen := make(map[string]struct{}, len(vocab))
	for _, w := range vocab {
		seen[w] = struct{}{}
	}
	for _, list := range lists {
		if !contains(slotEntities, list.EntityName) {
			continue
		}
		for _, canonical := range sortedKeys(list.MappingsTokens) {
			for _, synonym := range list.MappingsTokens[canonical] {
				for _, tok := range synonym {
					w := strings.ToLower(strings.TrimSpace(utterance.ConvertToRealSpaces(tok)))
					if w == "" {
						continue
					}
					if _, ok := seen[w]; !ok {
						seen[w] = struct{}{}
						vocab = append(vocab, w)
					}
				}
			}
		}
	}
	return IntentFeatures{Name: intent.Name, Vocab: vocab, SlotEntities: slotEntities}
}

// Train fits the CRF of input.Intent. Intents without slot definitions or
// utterances get a model without CRF that never extracts anything.
func (t *Tagger) Train(ctx context.Context, input TrainInput, progress tools.ProgressFunc) error {
	intent := input.Intent
	model := &Model{
		IntentFeatures:  intentFeatures(intent, input.ListEntities),
		SlotDefinitions: make([]intents.SlotDefinition, 0, len(intent.SlotDefinitions)),
	}
	for _, s := range intent.SlotDefinitions {
		model.SlotDefinitions = append(model.SlotDefinitions, intents.SlotDefinition{
			Name:     s.Name,
			Entities: append([]string{}, s.Entities...),
		})
	}

	if len(intent.SlotDefinitions) == 0 || len(intent.Utterances) == 0 {
		t.model = model
		if progress != nil {
			progress(1)
		}
		return nil
	}

	f := newFeaturizer(model.IntentFeatures, false)
	sequences := make([]tools.CRFSequence, 0, len(intent.Utterances))
	for _, u := range intent.Utterances {
		sequences = append(sequences, tools.CRFSequence{Features: f.sequence(u), Labels: Labelize(u)})
	}

	opts := crfOptions
	opts.Seed = input.Seed
	serialized, err := t.toolkit.NewCRFTrainer().Train(ctx, sequences, opts, progress)
	if err != nil {
		return errors.Wrapf(err, "failed to train slot tagger of intent %s", intent.Name)
	}
	tagger, err := t.toolkit.NewCRFTagger(serialized)
	if err != nil {
		return errors.Wrapf(err, "failed to load freshly trained slot tagger of intent %s", intent.Name)
	}
	model.CRFModel = serialized
	t.model = model
	t.crf = tagger
	return nil
}

func (t *Tagger) Serialize() (string, error) {
	if t.model == nil {
		return "", errors.Newf("%s must be trained before calling serialize", taggerName)
	}
	raw, err := json.Marshal(t.model)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", taggerName)
	}
	return string(raw), nil
}

func (t *Tagger) Load(serialized string) error {
	var model Model
	if err := json.Unmarshal([]byte(serialized), &model); err != nil {
		return errors.NewModelLoadingError(taggerName, err)
	}
	if err := model.validate(); err != nil {
		return errors.NewModelLoadingError(taggerName, err)
	}
	var crf tools.CRFTagger
	if model.CRFModel != "" {
		c, err := t.toolkit.NewCRFTagger(model.CRFModel)
		if err != nil {
			return errors.NewModelLoadingError(taggerName, err)
		}
		crf = c
	}
	t.model = &model
	t.crf = crf
	return nil
}

func (m *Model) validate() error {
	if m.IntentFeatures.Name == "" {
		return errors.New("intentFeatures.name is required")
	}
	if m.IntentFeatures.Vocab == nil {
		return errors.New("intentFeatures.vocab is required")
	}
	if m.IntentFeatures.SlotEntities == nil {
		return errors.New("intentFeatures.slot_entities is required")
	}
	if m.SlotDefinitions == nil {
		return errors.New("slot_definitions is required")
	}
	for i, s := range m.SlotDefinitions {
		if s.Name == "" {
			return errors.Newf("slot definition %d has no name", i)
		}
		if s.Entities == nil {
			return errors.Newf("slot definition %s has no entities", s.Name)
		}
	}
	return nil
}

type tagResult struct {
	tag         string
	name        string
	probability float64
}

// Predict returns the slots found in utt.
func (t *Tagger) Predict(utt *utterance.Utterance) ([]Extraction, error) {
	if t.model == nil {
		return nil, errors.Newf("%s must be trained before calling predict", taggerName)
	}
	if t.crf == nil {
		return nil, nil
	}

	features := newFeaturizer(t.model.IntentFeatures, true).sequence(utt)
	if len(features) == 0 {
		return nil, nil
	}
	marginals := t.crf.Marginal(features)

	results := make([]tagResult, len(marginals))
	for i, m := range marginals {
		results[i] = t.removeInvalid(bestTag(m))
	}
	return makeExtractedSlots(t.model.IntentFeatures.SlotEntities, utt, results), nil
}

// bestTag adds the marginal of each label and its /any twin and keeps the
// most probable.
func bestTag(marginal map[string]float64) tagResult {
	best := tagResult{tag: TagOut}
	bestP := -1.0
	for _, label := range sortedKeys(marginal) {
		p := marginal[label] + marginal[label+anySuffix]
		if p <= bestP {
			continue
		}
		bestP = p
		best = tagResult{tag: label[:1], probability: p}
		if len(label) > 2 {
			best.name = strings.TrimSuffix(label[2:], anySuffix)
		}
	}
	return best
}

func (t *Tagger) removeInvalid(res tagResult) tagResult {
	if res.tag == TagOut {
		return res
	}
	defined := false
	for _, s := range t.model.SlotDefinitions {
		if s.Name == res.name {
			defined = true
			break
		}
	}
	if res.probability < MinSlotConfidence || !defined {
		return tagResult{tag: TagOut, probability: 1 - res.probability}
	}
	return res
}

// makeExtractedSlots merges consecutive tags of a slot and resolves slot
// values to the canonical value of an overlapping entity of an allowed type.
func makeExtractedSlots(slotEntities []string, utt *utterance.Utterance, results []tagResult) []Extraction {
	var words []utterance.Token
	for _, t := range utt.Tokens() {
		if !t.IsSpace {
			words = append(words, t)
		}
	}

	var out []Extraction
	text := []rune(utt.String(utterance.StringOptions{Entities: utterance.EntitiesKeepDefault}))
	for i, res := range results {
		if i >= len(words) || res.tag == TagOut {
			continue
		}
		token := words[i]
		if res.tag == TagInside && len(out) > 0 && out[len(out)-1].Slot.Name == res.name {
			last := &out[len(out)-1]
			last.End = token.End()
			source := string(text[last.Start:last.End])
			last.Slot.Source = source
			last.Slot.Value = source
			continue
		}
		out = append(out, Extraction{
			Slot: utterance.ExtractedSlot{
				Name:       res.name,
				Confidence: res.probability,
				Source:     token.String(),
				Value:      token.String(),
			},
			Start: token.Offset,
			End:   token.End(),
		})
	}

	for i := range out {
		for _, e := range utt.Entities() {
			contained := e.StartPos <= out[i].Start && e.EndPos >= out[i].End
			containing := e.StartPos >= out[i].Start && e.EndPos <= out[i].End
			if (contained || containing) && contains(slotEntities, e.Type) {
				entity := e.ExtractedEntity
				out[i].Slot.Entity = &entity
				out[i].Slot.Value = e.Value
				break
			}
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
