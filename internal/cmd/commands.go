package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bdougie/roastbench/internal/storage"
)

func (a *app) runDir(cmd *cobra.Command) string {
	id, _ := cmd.Flags().GetString("run-id")
	if id == "" {
		id = uuid.NewString()
	}
	return filepath.Join(a.cfg.Output.Dir, id)
}

func newGenerateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Dispatch every prompt to the generation backend",
		Long: `Send one generation request per prompt under the configured
concurrency limit and save one dispatch result per prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompts, _ := cmd.Flags().GetString("prompts")
			items, err := ReadPrompts(prompts)
			if err != nil {
				return err
			}

			dir := a.runDir(cmd)
			if _, err := generate(cmd.Context(), a.cfg, a.logger, items, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dir, storage.DispatchFile))
			return nil
		},
	}
	cmd.Flags().StringP("prompts", "p", "", "file with one prompt per line")
	cmd.Flags().String("run-id", "", "name of the run directory (default: random uuid)")
	_ = cmd.MarkFlagRequired("prompts")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Grade the videos listed in a dispatch results file",
		Long: `Download every successfully generated video, sample its frames,
compute the quality metrics and write results, flagged items and a batch
summary. Without --run-id the exports land next to the input file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			dispatched, err := storage.ReadDispatch(input)
			if err != nil {
				return err
			}

			dir := filepath.Dir(input)
			if id, _ := cmd.Flags().GetString("run-id"); id != "" {
				dir = a.runDir(cmd)
			}
			if _, err := analyze(cmd.Context(), a.cfg, a.logger, dispatched, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
	cmd.Flags().StringP("input", "i", "", "dispatch results JSON written by generate")
	cmd.Flags().String("run-id", "", "write exports to this run directory instead")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and then analyze in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompts, _ := cmd.Flags().GetString("prompts")
			items, err := ReadPrompts(prompts)
			if err != nil {
				return err
			}

			dir := a.runDir(cmd)
			dispatched, err := generate(cmd.Context(), a.cfg, a.logger, items, dir)
			if err != nil {
				return err
			}
			summary, err := analyze(cmd.Context(), a.cfg, a.logger, dispatched, dir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%d scored, %d skipped, %d errored, %d flagged\n",
				dir, summary.Scored, summary.Skipped, summary.Errored, summary.FlaggedCount)
			return nil
		},
	}
	cmd.Flags().StringP("prompts", "p", "", "file with one prompt per line")
	cmd.Flags().String("run-id", "", "name of the run directory (default: random uuid)")
	_ = cmd.MarkFlagRequired("prompts")
	return cmd
}
