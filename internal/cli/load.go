package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/crewflow/internal/compiler"
	"github.com/roach88/crewflow/internal/store"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Prune bool
}

// LoadResult reports what load changed.
type LoadResult struct {
	Inserted    []string `json:"inserted"`
	Updated     []string `json:"updated"`
	Unchanged   []string `json:"unchanged"`
	Deactivated []string `json:"deactivated,omitempty"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <workflows-dir>",
		Short: "Write CUE workflow definitions to the store",
		Long: `Compile and validate the CUE workflows in a directory and save them.

A definition's version increases only when its content changes, so
loading the same directory twice is a no-op. Nothing is written when any
workflow is invalid. With --prune, stored definitions missing from the
directory are deactivated.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "deactivate stored definitions not in the directory")

	return cmd
}

func runLoad(ctx context.Context, opts *LoadOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	loaded, errs := compiler.LoadWorkflows(dir, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return outputLoadErrors(formatter, errs)
	}

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer st.Close()

	result := LoadResult{Inserted: []string{}, Updated: []string{}, Unchanged: []string{}}
	seen := make(map[string]bool, len(loaded.Workflows))
	for _, wf := range loaded.Workflows {
		def := wf.Definition
		seen[def.ID] = true
		saved, err := st.SaveDefinition(ctx, def)
		if err != nil {
			return WrapExitError(ExitCommandError, "save definition", err)
		}
		switch {
		case saved.Inserted:
			result.Inserted = append(result.Inserted, def.ID)
		case saved.Updated:
			result.Updated = append(result.Updated, fmt.Sprintf("%s@v%d", def.ID, saved.Version))
		default:
			result.Unchanged = append(result.Unchanged, def.ID)
		}
		formatter.VerboseLog("saved %s (version %d)", def.ID, saved.Version)
	}

	if opts.Prune {
		stored, err := st.ListDefinitions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list definitions", err)
		}
		for _, def := range stored {
			if seen[def.ID] || !def.IsActive {
				continue
			}
			if err := st.SetActive(ctx, def.ID, false); err != nil {
				return WrapExitError(ExitCommandError, "deactivate definition", err)
			}
			result.Deactivated = append(result.Deactivated, def.ID)
		}
		sort.Strings(result.Deactivated)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Loaded %d workflow(s) from %s\n", len(loaded.Workflows), dir)
	printIDs(formatter, "inserted", result.Inserted)
	printIDs(formatter, "updated", result.Updated)
	printIDs(formatter, "unchanged", result.Unchanged)
	printIDs(formatter, "deactivated", result.Deactivated)
	return nil
}

func printIDs(f *OutputFormatter, label string, ids []string) {
	for _, id := range ids {
		fmt.Fprintf(f.Writer, "  %-11s %s\n", label, id)
	}
}

// outputLoadErrors reports compile and validation errors. Directory
// problems are command errors; invalid workflows are failures.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	verrs := toValidationErrors(errs)
	if len(verrs) == 1 && isCommandLoadError(verrs[0].Code) {
		_ = formatter.Error(verrs[0].Code, verrs[0].Message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", verrs[0].Code, verrs[0].Message))
	}
	return outputValidationErrors(formatter, verrs)
}
