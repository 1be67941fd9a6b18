package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/nlu/engine"
	"github.com/teranos/nlu/pulse/training"
)

// WorkerCmd is the entrypoint of training worker processes. It speaks the
// training protocol over stdin and stdout and is not meant to be run by hand.
var WorkerCmd = &cobra.Command{
	Use:    training.WorkerCommand,
	Short:  "Run a training worker",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := training.ServeOptionsFromEnv()
		if err != nil {
			return err
		}
		opts.NewEnv = engine.NewTrainingEnv
		return training.Serve(cmd.Context(), opts)
	},
}
