package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/nlu/cmd/nlu/commands"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/pulse/training"
)

var rootCmd = &cobra.Command{
	Use:   "nlu",
	Short: "NLU - Intent, context and entity understanding engine",
	Long: `NLU - Train and run natural language understanding models.

Models classify sentences into contexts and intents, extract list, pattern
and system entities and fill intent slots. Trainings run in worker
processes; trained models are kept in a local database.

Available commands:
  train   - Train a model from a YAML training set
  predict - Understand a sentence with trained models
  models  - List, delete and prune stored models
  am      - Manage engine configuration ("I am")
  version - Show version information

Examples:
  nlu train travel.yaml                    # Train and store a model
  nlu predict --model <id> "book a flight" # Predict with a stored model
  nlu models ls                            # List stored models
  nlu am show                              # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		// stdout of a worker carries IPC messages
		if cmd.Name() == training.WorkerCommand {
			return logger.InitializeWithWriter(os.Stderr, true, verbosity)
		}
		if cmd.Name() == "show" {
			return nil
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Logger.Debugw("Logger initialized", "verbosity", logger.LevelName(verbosity))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.PredictCmd)
	rootCmd.AddCommand(commands.ModelsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
