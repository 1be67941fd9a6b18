package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nlu/engine"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
)

// TrainCmd trains a model from a YAML training set
var TrainCmd = &cobra.Command{
	Use:   "train <training-set.yaml>",
	Short: "Train a model from a YAML training set",
	Long: `Train a model from a YAML training set.

The training runs in a worker process. With database.store_models enabled
the model is stored and can be used by "nlu predict --model <id>".

A previous model turns the training into a warm training: only the
contexts whose intents changed are trained again.

Examples:
  nlu train travel.yaml                        # Train with the set's seed
  nlu train travel.yaml --seed 7               # Override the seed
  nlu train travel.yaml --previous <id>        # Warm training
  nlu train travel.yaml --output model.json    # Also write the model to a file`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

var (
	trainSeed     int64
	trainPrevious string
	trainOutput   string
)

func init() {
	TrainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Seed of the training (default: the set's seed, then training.default_seed)")
	TrainCmd.Flags().StringVar(&trainPrevious, "previous", "", "Stored model to warm-start from")
	TrainCmd.Flags().StringVarP(&trainOutput, "output", "o", "", "Write the trained model to this file")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	set, err := LoadTrainSet(args[0])
	if err != nil {
		return err
	}

	e, cfg, err := openEngine(ctx, &barEmitter{})
	if err != nil {
		return err
	}
	defer e.Close()

	opts := engine.TrainOptions{PreviousModel: trainPrevious}
	if cmd.Flags().Changed("seed") {
		seed := trainSeed
		opts.Seed = &seed
	}
	if trainPrevious != "" {
		if err := e.LoadStoredModel(ctx, trainPrevious); err != nil {
			logger.Logger.Warnw("Previous model unavailable, training from scratch",
				logger.FieldModelID, trainPrevious, logger.FieldError, err)
		}
	}

	m, err := e.Train(ctx, "", set, opts)
	if err != nil {
		return errors.Wrapf(err, "training of %s failed", args[0])
	}

	data := pterm.TableData{
		{"Model", m.ID.String()},
		{"Language", m.LanguageCode},
		{"Seed", fmt.Sprintf("%d", m.Seed)},
		{"Duration", m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond).String()},
		{"Stored", fmt.Sprintf("%t", cfg.Database.StoreModels)},
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	if trainOutput != "" {
		raw, err := m.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(trainOutput, raw, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write model to %s", trainOutput)
		}
		pterm.Success.Printfln("Model written to %s", trainOutput)
	}
	return nil
}
