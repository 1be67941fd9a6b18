// Package model identifies, serializes, diffs and stores trained models.
package model

import (
	"sort"

	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/intents"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/pipeline"
)

// Entity definition types.
const (
	EntityTypeList    = "list"
	EntityTypePattern = "pattern"
)

// TrainSet is a training request as written by users. Intent utterances
// are keyed by language so one set can train every language.
type TrainSet struct {
	LanguageCode string             `json:"languageCode" yaml:"language"`
	Seed         int64              `json:"seed" yaml:"seed"`
	EntityDefs   []EntityDefinition `json:"entityDefs" yaml:"entities"`
	IntentDefs   []IntentDefinition `json:"intentDefs" yaml:"intents"`
}

// EntityDefinition is a list or pattern entity. Lists use Fuzzy and
// Occurrences, patterns use Pattern, MatchCase and Examples.
type EntityDefinition struct {
	Name        string       `json:"name" yaml:"name"`
	Type        string       `json:"type" yaml:"type"`
	Sensitive   bool         `json:"sensitive" yaml:"sensitive"`
	Fuzzy       float64      `json:"fuzzy" yaml:"fuzzy"`
	Occurrences []Occurrence `json:"occurrences,omitempty" yaml:"occurrences"`
	Pattern     string       `json:"pattern,omitempty" yaml:"pattern"`
	MatchCase   bool         `json:"matchCase,omitempty" yaml:"match_case"`
	Examples    []string     `json:"examples,omitempty" yaml:"examples"`
}

// Occurrence is a canonical list value with its synonyms.
type Occurrence struct {
	Name     string   `json:"name" yaml:"name"`
	Synonyms []string `json:"synonyms" yaml:"synonyms"`
}

// IntentDefinition is an intent with utterances per language.
type IntentDefinition struct {
	Name       string                   `json:"name" yaml:"name"`
	Contexts   []string                 `json:"contexts" yaml:"contexts"`
	Slots      []intents.SlotDefinition `json:"slots" yaml:"slots"`
	Utterances map[string][]string      `json:"utterances" yaml:"utterances"`
}

// Contexts lists the distinct contexts of the set's intents, sorted.
func (s TrainSet) Contexts() []string {
	var all []string
	for _, i := range s.IntentDefs {
		all = append(all, i.Contexts...)
	}
	out := util.Uniq(all)
	sort.Strings(out)
	return out
}

// BuildTrainInput converts a TrainSet into the input of a training run
// for set.LanguageCode. Intents without utterances in that language are
// left out. listCaches seeds each list entity with the extraction cache
// of a previous model, by entity name.
func BuildTrainInput(trainID string, set TrainSet, listCaches map[string][]entities.ListCacheEntry) pipeline.TrainInput {
	input := pipeline.TrainInput{
		TrainID:      trainID,
		LanguageCode: set.LanguageCode,
		Seed:         set.Seed,
		Contexts:     set.Contexts(),
	}

	for _, def := range set.EntityDefs {
		switch def.Type {
		case EntityTypeList:
			synonyms := make(map[string][]string, len(def.Occurrences))
			for _, occ := range def.Occurrences {
				synonyms[occ.Name] = append([]string{}, occ.Synonyms...)
			}
			input.ListEntities = append(input.ListEntities, pipeline.ListEntityDefinition{
				Name:           def.Name,
				FuzzyTolerance: def.Fuzzy,
				Sensitive:      def.Sensitive,
				Synonyms:       synonyms,
				Cache:          listCaches[def.Name],
			})
		case EntityTypePattern:
			if !entities.IsPatternValid(def.Pattern) {
				continue
			}
			input.PatternEntities = append(input.PatternEntities, entities.PatternEntity{
				Name:      def.Name,
				Pattern:   def.Pattern,
				Examples:  append([]string{}, def.Examples...),
				MatchCase: def.MatchCase,
				Sensitive: def.Sensitive,
			})
		}
	}

	for _, def := range set.IntentDefs {
		utts, ok := def.Utterances[set.LanguageCode]
		if !ok {
			continue
		}
		slotDefs := make([]intents.SlotDefinition, 0, len(def.Slots))
		for _, s := range def.Slots {
			slotDefs = append(slotDefs, intents.SlotDefinition{Name: s.Name, Entities: append([]string{}, s.Entities...)})
		}
		input.Intents = append(input.Intents, pipeline.IntentDefinition{
			Name:            def.Name,
			Contexts:        append([]string{}, def.Contexts...),
			SlotDefinitions: slotDefs,
			Utterances:      append([]string{}, utts...),
		})
	}

	input.CtxToTrain = append([]string{}, input.Contexts...)
	return input
}
