package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/store"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <object> <record-id>",
		Short: "Show the audit trail of one record",
		Long: `List every action attempt recorded against a business record, oldest
first. The object accepts any spelling ParseEntityType does, so
"work_order" and "WorkOrder" are the same table.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runAudit(ctx context.Context, opts *RootOptions, table, recordID string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if object, err := model.ParseEntityType(table); err == nil {
		table = string(object)
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

	entries, err := st.ListAudit(ctx, table, recordID)
	if err != nil {
		return WrapExitError(ExitCommandError, "list audit", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]any{"entries": entries})
	}
	if len(entries) == 0 {
		fmt.Fprintf(formatter.Writer, "No audit entries for %s %s\n", table, recordID)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(formatter.Writer, "%s %-10s %-20s %s",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Status, e.Action, e.DefinitionID)
		if len(e.ChangedFields) > 0 {
			fmt.Fprintf(formatter.Writer, " [%s]", strings.Join(e.ChangedFields, ","))
		}
		if e.Reason != "" {
			fmt.Fprintf(formatter.Writer, ": %s", e.Reason)
		}
		fmt.Fprintln(formatter.Writer)
	}
	return nil
}
