package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/crewflow/internal/compiler"
	"github.com/roach88/crewflow/internal/template"
)

// MigrateOptions holds flags for the migrate-templates command.
type MigrateOptions struct {
	*RootOptions
	Write   bool
	Aliases string
}

// MigratedFile reports the conversions made in one file.
type MigratedFile struct {
	Path       string `json:"path"`
	References int    `json:"references"`
}

// MigrateResult holds the migrate-templates result.
type MigrateResult struct {
	Files      []MigratedFile `json:"files"`
	References int            `json:"references"`
	Written    bool           `json:"written"`
}

// NewMigrateTemplatesCommand creates the migrate-templates command.
func NewMigrateTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate-templates <workflows-dir>",
		Short: "Rewrite {!Object.Field} references as {{object.field}}",
		Long: `Find legacy {!Object.Field} merge fields in the CUE workflows of a
directory and report the canonical {{object.field}} each becomes.

Nothing is changed unless --write is given. --aliases names a YAML map
of extra legacy references to canonical paths, merged over the built-in
ones:

  Opportunity.Region__c: opportunity.region`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateTemplates(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Write, "write", false, "rewrite files in place")
	cmd.Flags().StringVar(&opts.Aliases, "aliases", "", "YAML file of extra field aliases")

	return cmd
}

func runMigrateTemplates(opts *MigrateOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	aliases, err := loadAliases(opts.Aliases)
	if err != nil {
		_ = formatter.Error("INVALID_ALIASES", err.Error(), nil)
		return WrapExitError(ExitCommandError, "aliases", err)
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		_ = formatter.Error("SCAN_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "scan directory", err)
	}

	result := MigrateResult{Files: []MigratedFile{}, Written: opts.Write}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "read file", err)
		}
		converted, n := template.ConvertLegacy(string(data), aliases)
		if n == 0 {
			continue
		}
		result.Files = append(result.Files, MigratedFile{Path: path, References: n})
		result.References += n
		formatter.VerboseLog("%s: %d reference(s)", path, n)
		if !opts.Write {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "stat file", err)
		}
		if err := os.WriteFile(path, []byte(converted), info.Mode().Perm()); err != nil {
			return WrapExitError(ExitCommandError, "write file", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	if result.References == 0 {
		fmt.Fprintln(w, "No legacy merge fields found")
		return nil
	}
	for _, f := range result.Files {
		fmt.Fprintf(w, "  %s: %d\n", f.Path, f.References)
	}
	verb := "Found"
	if opts.Write {
		verb = "Rewrote"
	}
	fmt.Fprintf(w, "%s %d legacy reference(s) in %d file(s)\n", verb, result.References, len(result.Files))
	if !opts.Write {
		fmt.Fprintln(w, "Run with --write to apply")
	}
	return nil
}

// loadAliases merges the aliases file, if any, over the defaults.
func loadAliases(path string) (template.Aliases, error) {
	out := make(template.Aliases, len(template.DefaultAliases))
	for k, v := range template.DefaultAliases {
		out[k] = v
	}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range extra {
		out[k] = v
	}
	return out, nil
}
