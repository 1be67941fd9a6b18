package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/slots"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/utterance"
)

// Predictors are the live models of one trained model.
type Predictors struct {
	LanguageCode    string
	ListEntities    []*entities.ListEntityModel
	PatternEntities []entities.PatternEntity
	Tfidf           map[string]float64
	Vocab           map[string][]float64
	Kmeans          *tools.KMeansModel
	Contexts        []string
	Intents         []IntentDefinition

	ctxClassifier     *intents.ContextClassifier
	intentClassifiers map[string]*intents.IntentClassifier
	slotTaggers       map[string]*slots.Tagger
	vocabList         []string
}

// LoadPredictors rebuilds the predictors of a trained model. Every
// serialized component is validated; a corrupt one fails the whole load.
func LoadPredictors(input TrainInput, output TrainOutput, toolkit tools.MLToolkit, listCacheSize int) (*Predictors, error) {
	p := &Predictors{
		LanguageCode:      input.LanguageCode,
		PatternEntities:   entities.FilterValidPatterns(input.PatternEntities),
		Tfidf:             output.Tfidf,
		Vocab:             output.Vocab,
		Kmeans:            output.Kmeans,
		Contexts:          output.Contexts,
		Intents:           input.Intents,
		intentClassifiers: make(map[string]*intents.IntentClassifier, len(output.IntentModelByCtx)),
		slotTaggers:       make(map[string]*slots.Tagger, len(output.SlotModelByIntent)),
		vocabList:         util.SortedKeys(output.Vocab),
	}

	for _, cold := range output.ListEntities {
		if err := cold.Validate(); err != nil {
			return nil, errors.NewModelLoadingError("list entities", err)
		}
		warm, err := cold.Warm(listCacheSize)
		if err != nil {
			return nil, err
		}
		p.ListEntities = append(p.ListEntities, warm)
	}

	p.ctxClassifier = intents.NewContextClassifier(toolkit)
	if err := p.ctxClassifier.Load(output.CtxModel); err != nil {
		return nil, err
	}

	for _, ctxName := range util.SortedKeys(output.IntentModelByCtx) {
		clf := intents.NewIntentClassifier(toolkit)
		if err := clf.Load(ctxName, output.IntentModelByCtx[ctxName]); err != nil {
			return nil, errors.Wrapf(err, "context %s", ctxName)
		}
		p.intentClassifiers[ctxName] = clf
	}

	for _, name := range util.SortedKeys(output.SlotModelByIntent) {
		tagger := slots.NewTagger(toolkit)
		if err := tagger.Load(output.SlotModelByIntent[name]); err != nil {
			return nil, errors.Wrapf(err, "intent %s", name)
		}
		p.slotTaggers[name] = tagger
	}
	return p, nil
}

func (p *Predictors) hasUtterances() bool {
	for _, i := range p.Intents {
		if len(i.Utterances) > 0 {
			return true
		}
	}
	return false
}

// PredictInput is a sentence to understand.
type PredictInput struct {
	Text string `json:"text"`
	// IncludedContexts restricts the predicted contexts; confidences are
	// rescaled over them. Unknown contexts are ignored.
	IncludedContexts []string `json:"includedContexts,omitempty"`
}

// EntityData is the value of a predicted entity.
type EntityData struct {
	Unit  string `json:"unit"`
	Value string `json:"value"`
}

// EntityMeta locates a predicted entity.
type EntityMeta struct {
	Sensitive  bool    `json:"sensitive"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Source     string  `json:"source"`
}

// Entity is an entity found in the predicted sentence.
type Entity struct {
	Name string     `json:"name"`
	Type string     `json:"type"`
	Data EntityData `json:"data"`
	Meta EntityMeta `json:"meta"`
}

// SlotPrediction is the most confident value of a slot.
type SlotPrediction struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Entity     *Entity `json:"entity"`
}

// IntentPrediction is one scored intent of a context.
type IntentPrediction struct {
	Label      string                    `json:"label"`
	Confidence float64                   `json:"confidence"`
	Extractor  string                    `json:"extractor"`
	Slots      map[string]SlotPrediction `json:"slots"`
}

// ContextPrediction is the confidence of a context and of its intents.
type ContextPrediction struct {
	Confidence float64            `json:"confidence"`
	OOS        float64            `json:"oos"`
	Intents    []IntentPrediction `json:"intents"`
}

// PredictOutput is the understanding of a sentence.
type PredictOutput struct {
	Entities         []Entity                     `json:"entities"`
	Predictions      map[string]ContextPrediction `json:"predictions"`
	IncludedContexts []string                     `json:"includedContexts"`
	Language         string                       `json:"language"`
	Ms               int64                        `json:"ms"`
}

// RankedContexts returns the predicted contexts, most confident first.
func (o *PredictOutput) RankedContexts() []string {
	names := util.SortedKeys(o.Predictions)
	sort.SliceStable(names, func(i, j int) bool {
		return o.Predictions[names[i]].Confidence > o.Predictions[names[j]].Confidence
	})
	return names
}

// Predict runs the prediction stages on input.Text.
func Predict(ctx context.Context, input PredictInput, env Env, p *Predictors) (*PredictOutput, error) {
	if p == nil {
		return nil, errors.New("no predictors")
	}
	if env.Tools == nil {
		return nil, errors.New("prediction needs tools")
	}
	start := time.Now()

	included := knownContexts(input.IncludedContexts, p.Contexts)
	if len(included) == 0 {
		included = p.Contexts
	}

	utts, err := BuildUtterances(ctx, env.Tools, []string{input.Text}, p.LanguageCode, p.vocabList)
	if err != nil {
		return nil, err
	}
	if len(utts) == 0 {
		return nil, errors.New("nothing to predict")
	}
	utt := utts[0]
	utt.SetGlobalTfidf(p.Tfidf)
	if p.Kmeans != nil {
		utt.SetKmeans(p.Kmeans)
	}

	var sys []utterance.EntityExtractionResult
	system, err := systemEntities(env)
	if err != nil {
		return nil, err
	}
	if system != nil {
		sys = system.Extract(ctx, utt.String(), p.LanguageCode, true)
	}
	tagEntities(utt, sys, p.ListEntities, p.PatternEntities)

	ctxPreds, err := p.predictContexts(utt, included)
	if err != nil {
		return nil, err
	}

	predictions := make(map[string]ContextPrediction, len(ctxPreds))
	for _, cp := range ctxPreds {
		pred, err := p.predictIntents(utt, cp.Name)
		if err != nil {
			return nil, err
		}
		pred.Confidence = cp.Confidence
		predictions[cp.Name] = pred
	}

	out := &PredictOutput{
		Predictions:      predictions,
		IncludedContexts: included,
		Language:         p.LanguageCode,
		Ms:               time.Since(start).Milliseconds(),
	}
	for _, e := range utt.Entities() {
		out.Entities = append(out.Entities, mapEntity(e.ExtractedEntity, e.StartPos, e.EndPos))
	}
	return out, nil
}

func (p *Predictors) predictContexts(utt *utterance.Utterance, included []string) ([]intents.Prediction, error) {
	if p.ctxClassifier == nil {
		label := DefaultContext
		if len(included) > 0 {
			label = included[0]
		}
		return []intents.Prediction{{Name: label, Confidence: 1}}, nil
	}
	preds, err := p.ctxClassifier.Predict(utt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to predict context")
	}
	if len(preds) == 0 {
		return []intents.Prediction{{Name: DefaultContext, Confidence: 1}}, nil
	}
	return restrictContexts(preds, included), nil
}

// restrictContexts keeps the predictions of included contexts and scales
// their confidences back to a sum of 1.
func restrictContexts(preds []intents.Prediction, included []string) []intents.Prediction {
	if len(included) == 0 {
		return preds
	}
	keep := make(map[string]bool, len(included))
	for _, c := range included {
		keep[c] = true
	}
	var out []intents.Prediction
	total := 0.0
	for _, p := range preds {
		if keep[p.Name] {
			out = append(out, p)
			total += p.Confidence
		}
	}
	if len(out) == 0 {
		return []intents.Prediction{{Name: included[0], Confidence: 1}}
	}
	for i := range out {
		if total > 0 {
			out[i].Confidence /= total
		} else {
			out[i].Confidence = 1 / float64(len(out))
		}
	}
	return out
}

func (p *Predictors) predictIntents(utt *utterance.Utterance, ctxName string) (ContextPrediction, error) {
	if !p.hasUtterances() {
		return ContextPrediction{Intents: []IntentPrediction{{
			Label:      intents.NoneIntent,
			Confidence: 1,
			Extractor:  intents.IntentClassifierName,
			Slots:      map[string]SlotPrediction{},
		}}}, nil
	}

	clf, ok := p.intentClassifiers[ctxName]
	if !ok {
		return ContextPrediction{Intents: []IntentPrediction{}}, nil
	}
	preds, err := clf.Predict(utt)
	if err != nil {
		return ContextPrediction{}, errors.Wrapf(err, "failed to predict intents of context %s", ctxName)
	}

	out := ContextPrediction{OOS: preds.OOS, Intents: make([]IntentPrediction, 0, len(preds.Intents))}
	for _, ip := range preds.Intents {
		found, err := p.extractSlots(utt, ip.Name)
		if err != nil {
			return ContextPrediction{}, err
		}
		out.Intents = append(out.Intents, IntentPrediction{
			Label:      ip.Name,
			Confidence: ip.Confidence,
			Extractor:  ip.Extractor,
			Slots:      found,
		})
	}
	sort.SliceStable(out.Intents, func(i, j int) bool {
		return out.Intents[i].Confidence > out.Intents[j].Confidence
	})
	return out, nil
}

// extractSlots keeps the most confident value of every slot of intent.
func (p *Predictors) extractSlots(utt *utterance.Utterance, intent string) (map[string]SlotPrediction, error) {
	out := map[string]SlotPrediction{}
	tagger, ok := p.slotTaggers[intent]
	if !ok {
		return out, nil
	}
	found, err := tagger.Predict(utt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extract slots of intent %s", intent)
	}
	for _, f := range found {
		if prev, ok := out[f.Slot.Name]; ok && prev.Confidence > f.Slot.Confidence {
			continue
		}
		s := SlotPrediction{
			Name:       f.Slot.Name,
			Value:      f.Slot.Value,
			Source:     f.Slot.Source,
			Confidence: f.Slot.Confidence,
			Start:      f.Start,
			End:        f.End,
		}
		if f.Slot.Entity != nil {
			e := mapEntity(*f.Slot.Entity, f.Start, f.End)
			s.Entity = &e
		}
		out[f.Slot.Name] = s
	}
	return out, nil
}

func mapEntity(e utterance.ExtractedEntity, start, end int) Entity {
	return Entity{
		Name: e.Type,
		Type: e.Metadata.EntityID,
		Data: EntityData{Unit: e.Metadata.Unit, Value: e.Value},
		Meta: EntityMeta{
			Sensitive:  e.Sensitive,
			Confidence: e.Confidence,
			Start:      start,
			End:        end,
			Source:     e.Metadata.Source,
		},
	}
}

func knownContexts(wanted, known []string) []string {
	var out []string
	for _, w := range wanted {
		for _, k := range known {
			if w == k {
				out = append(out, w)
				break
			}
		}
	}
	return out
}
