package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labsai/EDDI-integration-tests/internal/harness"
)

// FileValidation is the verdict on one scenario file.
type FileValidation struct {
	Path     string `json:"path"`
	Scenario string `json:"scenario,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file|dir>...",
		Short: "Validate scenario files without running them",
		Long: `Check scenario files against the scenario schema and the rules the
harness enforces before execution: one action per step, known resource
collections, complete bot compositions and well-formed assertions.

No service is contacted.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeScenario, fmt.Sprintf("cannot read %s", p), err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findScenarioFiles(p, "")
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeScenario, fmt.Sprintf("cannot list %s", p), err)
		}
		formatter.VerboseLog("Found %d scenario file(s) in %s", len(found), p)
		files = append(files, found...)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		v := FileValidation{Path: file, Valid: true}
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			v.Valid = false
			v.Error = err.Error()
			result.Valid = false
		} else {
			v.Scenario = scenario.Name
		}
		result.Files = append(result.Files, v)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenario, Message: "invalid scenario files"}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, v := range result.Files {
			if v.Valid {
				fmt.Fprintf(w, "✓ %s (%s)\n", v.Path, v.Scenario)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n  %s\n", v.Path, v.Error)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "invalid scenario files")
	}
	return nil
}
