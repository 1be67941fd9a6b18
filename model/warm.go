package model

import (
	"encoding/json"
	"sort"

	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/pipeline"
)

// ContextChangeLog is the difference between the contexts of two
// trainings. A context is modified when the intents it holds differ by
// name, utterances or slots.
type ContextChangeLog struct {
	CreatedContexts  []string `json:"createdContexts"`
	ModifiedContexts []string `json:"modifiedContexts"`
	DeletedContexts  []string `json:"deletedContexts"`
}

// Retrain lists the contexts whose intent models must be trained again.
func (c ContextChangeLog) Retrain() []string {
	out := append([]string{}, c.CreatedContexts...)
	out = append(out, c.ModifiedContexts...)
	sort.Strings(out)
	return out
}

// GetModifiedContexts diffs the contexts of current against previous.
func GetModifiedContexts(current, previous []pipeline.IntentDefinition) ContextChangeLog {
	cur := intentsByContext(current)
	prev := intentsByContext(previous)

	log := ContextChangeLog{
		CreatedContexts:  []string{},
		ModifiedContexts: []string{},
		DeletedContexts:  []string{},
	}
	for ctx, fingerprint := range cur {
		before, ok := prev[ctx]
		switch {
		case !ok:
			log.CreatedContexts = append(log.CreatedContexts, ctx)
		case before != fingerprint:
			log.ModifiedContexts = append(log.ModifiedContexts, ctx)
		}
	}
	for ctx := range prev {
		if _, ok := cur[ctx]; !ok {
			log.DeletedContexts = append(log.DeletedContexts, ctx)
		}
	}
	sort.Strings(log.CreatedContexts)
	sort.Strings(log.ModifiedContexts)
	sort.Strings(log.DeletedContexts)
	return log
}

type intentFingerprint struct {
	Name       string                   `json:"name"`
	Utterances []string                 `json:"utterances,omitempty"`
	Slots      []intents.SlotDefinition `json:"slots,omitempty"`
}

// intentsByContext maps every context to a canonical encoding of its
// intents. The contexts an intent belongs to are not part of it.
func intentsByContext(defs []pipeline.IntentDefinition) map[string]string {
	grouped := map[string][]intentFingerprint{}
	for _, def := range defs {
		fp := intentFingerprint{Name: def.Name, Utterances: def.Utterances, Slots: def.SlotDefinitions}
		for _, ctx := range def.Contexts {
			grouped[ctx] = append(grouped[ctx], fp)
		}
	}

	out := make(map[string]string, len(grouped))
	for ctx, fps := range grouped {
		sort.SliceStable(fps, func(i, j int) bool { return fps[i].Name < fps[j].Name })
		raw, _ := json.Marshal(fps)
		out[ctx] = string(raw)
	}
	return out
}

// MergeOutputs applies a warm training on top of the model it started
// from. Intent models of created and modified contexts come from
// current, deleted contexts are dropped and the others are kept from
// previous. Everything else, including the context list, is current's.
func MergeOutputs(previous, current pipeline.TrainOutput, changes ContextChangeLog) pipeline.TrainOutput {
	merged := current
	merged.Contexts = append([]string{}, current.Contexts...)
	merged.IntentModelByCtx = make(map[string]string, len(previous.IntentModelByCtx)+len(current.IntentModelByCtx))

	for ctx, m := range previous.IntentModelByCtx {
		merged.IntentModelByCtx[ctx] = m
	}
	for _, ctx := range changes.DeletedContexts {
		delete(merged.IntentModelByCtx, ctx)
	}
	for _, ctx := range changes.Retrain() {
		if m, ok := current.IntentModelByCtx[ctx]; ok {
			merged.IntentModelByCtx[ctx] = m
		}
	}
	return merged
}
