package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nlu/engine"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/model"
	"github.com/teranos/nlu/pipeline"
)

// PredictCmd understands a sentence
var PredictCmd = &cobra.Command{
	Use:   "predict <text>",
	Short: "Understand a sentence with trained models",
	Long: `Understand a sentence with trained models.

Models come from the model store (--model) or from files written by
"nlu train --output" (--file). Given models of several languages, the
language of the sentence picks the model.

Examples:
  nlu predict --model <id> "book a flight to paris"
  nlu predict --file model.json "book a flight" --json
  nlu predict --model <en-id> --model <fr-id> "réserver un vol"
  nlu predict --model <id> --spellcheck "book a flihgt"`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var (
	predictModels     []string
	predictFiles      []string
	predictContexts   []string
	predictSpellcheck bool
	predictJSON       bool
)

func init() {
	PredictCmd.Flags().StringSliceVarP(&predictModels, "model", "m", nil, "Stored model id (repeatable)")
	PredictCmd.Flags().StringSliceVarP(&predictFiles, "file", "f", nil, "Model file (repeatable)")
	PredictCmd.Flags().StringSliceVar(&predictContexts, "context", nil, "Restrict the contexts considered (repeatable)")
	PredictCmd.Flags().BoolVar(&predictSpellcheck, "spellcheck", false, "Correct the sentence with the model vocabulary first")
	PredictCmd.Flags().BoolVar(&predictJSON, "json", false, "Output the prediction as JSON")
}

func runPredict(cmd *cobra.Command, args []string) error {
	if len(predictModels)+len(predictFiles) == 0 {
		return errors.WithHint(errors.New("no model given"), "use --model <id> or --file <model.json>")
	}
	ctx := cmd.Context()
	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ids, err := loadPredictModels(ctx, e, predictModels, predictFiles)
	if err != nil {
		return err
	}
	id, err := pickModel(ctx, e, ids, args[0])
	if err != nil {
		return err
	}

	text := args[0]
	if predictSpellcheck {
		if text, err = e.SpellCheck(ctx, text, id); err != nil {
			return err
		}
	}
	out, err := e.Predict(ctx, text, predictContexts, id)
	if err != nil {
		return err
	}

	if predictJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if predictSpellcheck {
		pterm.Info.Printfln("Spellchecked: %s", text)
	}
	return renderPrediction(id, out)
}

func loadPredictModels(ctx context.Context, e *engine.Engine, ids, files []string) ([]string, error) {
	loaded := make([]string, 0, len(ids)+len(files))
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read model file %s", path)
		}
		m, err := model.Unmarshal(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid model file %s", path)
		}
		if err := e.LoadModel(ctx, m); err != nil {
			return nil, err
		}
		loaded = append(loaded, m.ID.String())
	}
	for _, id := range ids {
		if err := e.LoadStoredModel(ctx, id); err != nil {
			return nil, err
		}
		loaded = append(loaded, id)
	}
	return loaded, nil
}

// modelsByLanguage keeps the first model of every language.
func modelsByLanguage(ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, raw := range ids {
		id, err := model.ParseID(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := out[id.LanguageCode]; !ok {
			out[id.LanguageCode] = raw
		}
	}
	return out, nil
}

// pickModel returns the model matching the language of text, the first
// model when the language cannot be told.
func pickModel(ctx context.Context, e *engine.Engine, ids []string, text string) (string, error) {
	byLang, err := modelsByLanguage(ids)
	if err != nil {
		return "", err
	}
	if len(byLang) == 1 {
		return ids[0], nil
	}
	lang, err := e.DetectLanguage(ctx, text, byLang)
	if err != nil {
		return "", err
	}
	if id, ok := byLang[lang]; ok {
		logger.Logger.Debugw("Language detected", logger.FieldLanguage, lang, logger.FieldModelID, id)
		return id, nil
	}
	logger.Logger.Infow("Language not detected, using the first model", logger.FieldModelID, ids[0])
	return ids[0], nil
}

func renderPrediction(id string, out *pipeline.PredictOutput) error {
	pterm.DefaultSection.Printfln("Prediction (%s, %s, %dms)", out.Language, id, out.Ms)

	rows := pterm.TableData{{"Context", "Confidence", "OOS", "Intent", "Confidence", "Extractor", "Slots"}}
	for _, ctxName := range out.RankedContexts() {
		pred := out.Predictions[ctxName]
		for i, intent := range pred.Intents {
			ctxCol, ctxConf, oos := "", "", ""
			if i == 0 {
				ctxCol, ctxConf, oos = ctxName, fmt.Sprintf("%.3f", pred.Confidence), fmt.Sprintf("%.3f", pred.OOS)
			}
			rows = append(rows, []string{ctxCol, ctxConf, oos, intent.Label, fmt.Sprintf("%.3f", intent.Confidence), intent.Extractor, formatSlots(intent.Slots)})
		}
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	if len(out.Entities) == 0 {
		return nil
	}
	pterm.DefaultSection.Println("Entities")
	entities := pterm.TableData{{"Name", "Type", "Value", "Source", "Confidence"}}
	for _, ent := range out.Entities {
		value := ent.Data.Value
		if ent.Data.Unit != "" {
			value += " " + ent.Data.Unit
		}
		entities = append(entities, []string{ent.Name, ent.Type, value, ent.Meta.Source, fmt.Sprintf("%.3f", ent.Meta.Confidence)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(entities).Render()
}

func formatSlots(slots map[string]pipeline.SlotPrediction) string {
	if len(slots) == 0 {
		return ""
	}
	parts := make([]string, 0, len(slots))
	for _, name := range util.SortedKeys(slots) {
		parts = append(parts, name+"="+slots[name].Value)
	}
	return strings.Join(parts, ", ")
}
