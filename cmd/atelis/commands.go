package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/atelislab/atelis/internal/config"
	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/research"
)

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export student dialogues for research analysis",
	Long: `Export every student's tutoring dialogue as a plain-text transcript
and store per-dialogue metrics in the research database.

Transcripts use the [STUDENT]/[AI] labeled format; hidden prompt turns are
excluded. A student whose record cannot be parsed is skipped and reported,
never aborting the whole run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		skipMetrics, _ := cmd.Flags().GetBool("no-metrics")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		exporter := &research.Exporter{
			Store: history.NewStore(cfg.Storage.DataDir),
		}
		if !skipMetrics {
			db, err := research.OpenDB(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("opening metrics database: %w", err)
			}
			defer db.Close()
			exporter.DB = db
		}

		printStep("Exporting dialogues to %s...", output)
		summary, err := exporter.Run(cmd.Context(), output)
		if err != nil {
			return err
		}

		for _, id := range summary.Skipped {
			printWarning("Skipped %s: record unreadable", id)
		}
		printSuccess("Exported %d of %d students", summary.Exported, summary.Students)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", filepath.Join(".", "export"), "output directory for transcripts")
	exportCmd.Flags().Bool("no-metrics", false, "skip writing metrics to the research database")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", stylize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
