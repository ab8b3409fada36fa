package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quietgrid/sheetsync/internal/backend"
	"github.com/quietgrid/sheetsync/internal/config"
	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/steps"
	"github.com/quietgrid/sheetsync/internal/store"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Config   string
	Analysis string // optional: replay one analysis only
}

// ReplayAnalysisResult reports one analysis replay.
type ReplayAnalysisResult struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Steps         int    `json:"steps"`
	Warnings      int    `json:"warnings"`
	Deterministic bool   `json:"deterministic"`
}

// ReplayReport is the overall replay outcome.
type ReplayReport struct {
	Analyses         []ReplayAnalysisResult `json:"analyses"`
	AllDeterministic bool                   `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay saved analyses and verify determinism",
		Long: `Replay every saved analysis twice against fresh backends and verify the
two runs produce byte-identical canonical results.

Import steps resolve against the sources in the config file, so replay
needs the same sources the analyses were authored with.

Exit codes:
  0 - every analysis replayed deterministically
  1 - a replay diverged between runs or failed to execute
  2 - command error (database missing, bad config, unknown analysis)

Examples:
  sheetsync replay --db sheetsync.db --config sheetsync.yaml
  sheetsync replay --db sheetsync.db --analysis a42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Config, "config", "", "config file providing import sources")
	cmd.Flags().StringVar(&opts.Analysis, "analysis", "", "replay a single analysis by id")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	var ids []string
	if opts.Analysis != "" {
		ids = []string{opts.Analysis}
	} else {
		infos, err := st.ListAnalyses(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list analyses", err)
		}
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if len(ids) == 0 {
		if opts.Format == "json" {
			return out.Success(ReplayReport{Analyses: []ReplayAnalysisResult{}, AllDeterministic: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "no saved analyses")
		return nil
	}

	report := ReplayReport{AllDeterministic: true}
	for _, id := range ids {
		name, log, err := st.LoadAnalysis(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("load analysis %s", id), err)
		}

		res, err := replayTwice(ctx, log, cfg.Sources)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("replay analysis %s", id), err)
		}
		res.ID = id
		res.Name = name
		report.Analyses = append(report.Analyses, res)
		if !res.Deterministic {
			report.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		if err := out.Success(report); err != nil {
			return err
		}
	} else {
		for _, a := range report.Analyses {
			status := "ok"
			if !a.Deterministic {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s (%s): %d steps, %d warnings\n", status, a.ID, a.Name, a.Steps, a.Warnings)
		}
	}

	if !report.AllDeterministic {
		return NewExitError(ExitFailure, "replay diverged between runs")
	}
	return nil
}

// replayTwice runs the step log against two fresh backends and compares
// the canonical serialization of the final results. Fresh sequential
// allocators make entity identity reproducible, so any divergence points
// at nondeterminism in replay itself.
func replayTwice(ctx context.Context, log []steps.Step, sources map[string]string) (ReplayAnalysisResult, error) {
	first, warnings, err := replayOnce(ctx, log, sources)
	if err != nil {
		return ReplayAnalysisResult{}, fmt.Errorf("first run: %w", err)
	}
	second, _, err := replayOnce(ctx, log, sources)
	if err != nil {
		return ReplayAnalysisResult{}, fmt.Errorf("second run: %w", err)
	}

	return ReplayAnalysisResult{
		Steps:         len(log),
		Warnings:      warnings,
		Deterministic: bytes.Equal(first, second),
	}, nil
}

func replayOnce(ctx context.Context, log []steps.Step, sources map[string]string) ([]byte, int, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := backend.New(entity.NewSeqAllocator("r"), backend.WithLogger(quiet))
	if err != nil {
		return nil, 0, err
	}
	if err := registerSources(b, sources); err != nil {
		return nil, 0, err
	}

	var (
		last     *transport.EditResult
		warnings int
	)
	for i, step := range log {
		last, err = b.Edit(ctx, transport.EditRequest{
			StepID:     step.ID,
			Index:      i,
			Type:       step.Type,
			Params:     step.Params,
			Generation: int64(i + 1),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("step %s: %w", step.ID, err)
		}
		warnings += len(last.Warnings)
	}
	if last == nil {
		return []byte("{}"), 0, nil
	}

	plain, err := steps.ToPlain(last)
	if err != nil {
		return nil, 0, err
	}
	data, err := steps.MarshalCanonical(plain)
	if err != nil {
		return nil, 0, err
	}
	return data, warnings, nil
}
