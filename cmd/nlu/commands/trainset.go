package commands

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/model"
)

// LoadTrainSet reads a training set written in YAML:
//
//	language: en
//	entities:
//	  - name: city
//	    type: list
//	    fuzzy: 0.8
//	    occurrences:
//	      - name: paris
//	        synonyms: [paname]
//	intents:
//	  - name: book
//	    contexts: [travel]
//	    utterances:
//	      en: ["book a flight to [paris](city)"]
func LoadTrainSet(path string) (model.TrainSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.TrainSet{}, errors.Wrapf(err, "failed to read training set %s", path)
	}
	var set model.TrainSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return model.TrainSet{}, errors.Wrapf(err, "failed to parse training set %s", path)
	}
	if err := validateTrainSet(set); err != nil {
		return model.TrainSet{}, errors.Wrapf(err, "invalid training set %s", path)
	}
	return set, nil
}

func validateTrainSet(set model.TrainSet) error {
	if set.LanguageCode == "" {
		return errors.NewInvalidRequestError("language is required")
	}
	if set.Seed < 0 {
		return errors.NewInvalidRequestError("seed must be >= 0, got %d", set.Seed)
	}
	for i, def := range set.EntityDefs {
		if def.Name == "" {
			return errors.NewInvalidRequestError("entities[%d] has no name", i)
		}
		switch def.Type {
		case model.EntityTypeList, model.EntityTypePattern:
		default:
			return errors.NewInvalidRequestError("entity %s has unknown type %q (expected %s or %s)",
				def.Name, def.Type, model.EntityTypeList, model.EntityTypePattern)
		}
	}
	for i, def := range set.IntentDefs {
		if def.Name == "" {
			return errors.NewInvalidRequestError("intents[%d] has no name", i)
		}
		if len(def.Contexts) == 0 {
			return errors.NewInvalidRequestError("intent %s belongs to no context", def.Name)
		}
	}
	return nil
}
