package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietgrid/sheetsync/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// RunReport is the JSON payload for a scenario run.
type RunReport struct {
	Scenario string   `json:"scenario"`
	Passed   bool     `json:"passed"`
	Ops      int      `json:"ops"`
	Errors   []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run conformance scenarios against a fresh backend",
		Long: `Run one or more scenario files against a fresh in-process backend and
evaluate their assertions.

Exit codes:
  0 - every scenario passed
  1 - at least one scenario failed its expectations or assertions
  2 - a scenario file could not be read or parsed

Examples:
  sheetsync run scenarios/merge_rekey.yaml
  sheetsync run scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	reports := make([]RunReport, 0, len(paths))
	allPassed := true
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("load scenario %s", path), err)
		}
		result, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run scenario %s", scenario.Name), err)
		}
		reports = append(reports, RunReport{
			Scenario: scenario.Name,
			Passed:   result.Passed,
			Ops:      len(result.Trace),
			Errors:   result.Errors,
		})
		if !result.Passed {
			allPassed = false
		}
	}

	if opts.Format == "json" {
		if err := out.Success(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			status := "ok"
			if !r.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s (%d ops)\n", status, r.Scenario, r.Ops)
			for _, e := range r.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "     %s\n", e)
			}
		}
	}

	if !allPassed {
		return NewExitError(ExitFailure, "scenario failures")
	}
	return nil
}
