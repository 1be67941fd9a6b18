package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/model"
)

// ModelsCmd manages stored models
var ModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, delete and prune stored models",
	Long: `Manage the models kept in the model store (database.path).

Examples:
  nlu models ls                 # List stored models, most recent first
  nlu models rm <id>            # Delete a model
  nlu models prune --keep 5     # Keep the 5 most recent models`,
}

var modelsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored models",
	Args:    cobra.NoArgs,
	RunE:    runModelsLs,
}

var modelsRmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Delete stored models",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runModelsRm,
}

var modelsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent models",
	Args:  cobra.NoArgs,
	RunE:  runModelsPrune,
}

var pruneKeep int

func init() {
	modelsPruneCmd.Flags().IntVar(&pruneKeep, "keep", -1, "Models to keep (default: database.keep_models)")

	ModelsCmd.AddCommand(modelsLsCmd)
	ModelsCmd.AddCommand(modelsRmCmd)
	ModelsCmd.AddCommand(modelsPruneCmd)
}

func runModelsLs(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		pterm.Info.Println("No stored models")
		return nil
	}

	rows := pterm.TableData{{"ID", "Language", "Seed", "Trained", "Duration", "Size"}}
	for _, info := range infos {
		rows = append(rows, []string{
			info.ID.String(),
			info.ID.LanguageCode,
			fmt.Sprintf("%d", info.ID.Seed),
			info.FinishedAt.Local().Format(time.DateTime),
			info.FinishedAt.Sub(info.StartedAt).Round(time.Millisecond).String(),
			formatBytes(info.SizeBytes),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runModelsRm(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	for _, raw := range args {
		id, err := model.ParseID(raw)
		if err != nil {
			return err
		}
		exists, err := store.Has(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFoundError("model %s", raw)
		}
		if err := store.Delete(cmd.Context(), id); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted %s", raw)
	}
	return nil
}

func runModelsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	keep := pruneKeep
	if keep < 0 {
		keep = cfg.Database.KeepModels
	}
	if keep <= 0 {
		return errors.WithHint(errors.New("nothing to prune"), "pass --keep N or set database.keep_models")
	}

	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.Prune(cmd.Context(), keep)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Pruned %d models, kept the %d most recent", n, keep)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
