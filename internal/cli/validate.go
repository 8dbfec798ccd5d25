package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/crewflow/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Workflows []string                   `json:"workflows,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflows-dir>",
		Short: "Validate workflow definitions without loading them",
		Long: `Compile and validate the CUE workflows in a directory.

Reports every problem at once with its error code and source line:
unknown trigger objects, operators and action types, invalid action
configs, duplicate action orders, changed_to on CREATE definitions and
negative delays. Nothing is written to the store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, errs := compiler.LoadWorkflows(dir, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return outputLoadErrors(formatter, errs)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
	ids := make([]string, 0, len(loaded.Workflows))
	for _, wf := range loaded.Workflows {
		formatter.VerboseLog("Validated workflow: %s", wf.Definition.ID)
		ids = append(ids, wf.Definition.ID)
	}
	return outputValidateSuccess(formatter, ids)
}

// toValidationErrors converts loader errors into reportable entries.
func toValidationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			ve := compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			}
			if loadErr.Pos.IsValid() {
				ve.Field = filepath.Base(loadErr.Pos.Filename())
				ve.Line = loadErr.Pos.Line()
			}
			out = append(out, ve)
			continue
		}
		out = append(out, compiler.ValidationError{
			Field:   "load",
			Message: err.Error(),
			Code:    compiler.ErrCodeGeneric,
		})
	}
	return out
}

// isCommandLoadError reports loader codes that mean the directory itself
// is unusable rather than a workflow being invalid.
func isCommandLoadError(code string) bool {
	switch code {
	case compiler.ErrCodeNotFound, compiler.ErrCodeScanError, compiler.ErrCodeNoFiles:
		return true
	}
	return false
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, ids []string) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Workflows: ids})
	}

	fmt.Fprintf(formatter.Writer, "✓ All workflows valid (%d)\n", len(ids))
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		err := formatter.Response(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", err.Field, err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return failure
}
