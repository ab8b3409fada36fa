package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietgrid/sheetsync/internal/harness"
	"github.com/quietgrid/sheetsync/internal/schema"
	"github.com/quietgrid/sheetsync/internal/steps"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateReport is the JSON payload for one validated file.
type ValidateReport struct {
	File     string   `json:"file"`
	Scenario string   `json:"scenario,omitempty"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files without running them",
		Long: `Parse scenario files strictly and check every edit's params against the
step-type schemas. Placeholders pass schema validation; they are resolved
only when the scenario runs.

Exit codes:
  0 - every file is valid
  1 - validation problems found
  2 - a file could not be read

Examples:
  sheetsync validate scenarios/*.yaml
  sheetsync validate scenario.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	validator, err := schema.NewValidator()
	if err != nil {
		return WrapExitError(ExitCommandError, "load schemas", err)
	}

	reports := make([]ValidateReport, 0, len(paths))
	allValid := true
	for _, path := range paths {
		report := validateFile(validator, path)
		reports = append(reports, report)
		if !report.Valid {
			allValid = false
		}
	}

	if opts.Format == "json" {
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := out.Success(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			status := "ok"
			if !r.Valid {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s\n", status, r.File)
			for _, p := range r.Problems {
				fmt.Fprintf(cmd.OutOrStdout(), "     %s\n", p)
			}
		}
	}

	if !allValid {
		return NewExitError(ExitFailure, "validation problems found")
	}
	return nil
}

func validateFile(validator *schema.Validator, path string) ValidateReport {
	report := ValidateReport{File: path, Valid: true}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		report.Valid = false
		report.Problems = append(report.Problems, err.Error())
		return report
	}
	report.Scenario = scenario.Name

	for i, step := range scenario.Flow {
		if step.Op != harness.OpEdit {
			continue
		}
		raw, err := json.Marshal(step.Params)
		if err != nil {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("flow[%d]: %v", i, err))
			continue
		}
		params, err := steps.DecodeParams(steps.StepType(step.Type), raw)
		if err != nil {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("flow[%d]: %v", i, err))
			continue
		}
		if err := validator.Validate(step.StepID, params); err != nil {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("flow[%d]: %v", i, err))
		}
	}
	return report
}
