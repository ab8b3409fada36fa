package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// HistoryStep is the JSON view of one saved step.
type HistoryStep struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Params string `json:"params"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [analysis-id]",
		Short: "List saved analyses or show one analysis's step log",
		Long: `Without arguments, list every saved analysis. With an analysis id, print
that analysis's committed step log in order.

Examples:
  sheetsync history --db sheetsync.db
  sheetsync history a42 --db sheetsync.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showAnalysis(opts, args[0], cmd)
			}
			return listAnalyses(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func listAnalyses(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	infos, err := st.ListAnalyses(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list analyses", err)
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return out.Success(infos)
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no saved analyses")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d steps, updated %s)\n", info.ID, info.Name, info.StepCount, info.UpdatedAt)
	}
	return nil
}

func showAnalysis(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	name, log, err := st.LoadAnalysis(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("load analysis %s", id), err)
	}

	if opts.Format == "json" {
		view := make([]HistoryStep, 0, len(log))
		for _, step := range log {
			canonical, err := steps.CanonicalParams(step.Params)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("encode step %s", step.ID), err)
			}
			view = append(view, HistoryStep{
				ID:     step.ID,
				Index:  step.Index,
				Type:   string(step.Type),
				Params: canonical,
			})
		}
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return out.Success(map[string]any{"id": id, "name": name, "steps": view})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, name)
	for _, step := range log {
		canonical, err := steps.CanonicalParams(step.Params)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("encode step %s", step.ID), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s %s %s\n", step.Index, step.ID, step.Type, canonical)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
