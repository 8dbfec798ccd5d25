package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/crewflow/internal/api"
	"github.com/roach88/crewflow/internal/engine"
	"github.com/roach88/crewflow/internal/model"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Strict bool
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate <object> <event> [request.json]",
		Short: "Evaluate one entity transition",
		Long: `Evaluate one entity transition against the stored definitions and run
the matching actions, exactly as POST /v1/triggers/{object}/{event} does.

The request is read from the file argument, or from stdin when it is
omitted or "-":

  {"entityId": "opp-1",
   "changes": {"status": "SIGNED"},
   "previousValues": {"status": "PENDING"},
   "related": {"contact": {"email": "ana@example.com"}},
   "actorId": "user-1"}

Failed actions are reported as warnings. With --strict they also make
the command exit 1.`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 3 {
				path = args[2]
			}
			return runEvaluate(cmd.Context(), opts, args[0], args[1], path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when any action failed")

	return cmd
}

func runEvaluate(ctx context.Context, opts *EvaluateOptions, object, event, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	req, err := readTriggerRequest(path, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error("INVALID_BODY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read request", err)
	}

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	resp, err := rt.engine.Trigger(ctx, model.EntityType(object), model.TriggerEvent(event), req)
	if err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			_ = formatter.Error(string(ve.Code), ve.Message, map[string]string{"field": ve.Field})
			return WrapExitError(ExitCommandError, "invalid transition", err)
		}
		_ = formatter.Error("EVALUATION_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "evaluate", err)
	}

	if formatter.JSON() {
		if err := formatter.Success(resp); err != nil {
			return err
		}
	} else {
		printTriggerResponse(formatter.Writer, resp)
	}

	if opts.Strict && len(resp.Warnings) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed", len(resp.Warnings)))
	}
	return nil
}

func readTriggerRequest(path string, stdin io.Reader) (engine.TriggerRequest, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return engine.TriggerRequest{}, err
		}
		defer f.Close()
		r = f
	}
	req, err := api.DecodeTriggerRequest(r)
	if err != nil {
		return engine.TriggerRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func printTriggerResponse(w io.Writer, resp engine.TriggerResponse) {
	if !resp.TriggersEvaluated {
		fmt.Fprintln(w, "No matching workflows")
		return
	}
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%s v%d %s", r.DefinitionID, r.Version, r.Status)
		if r.Reason != "" {
			fmt.Fprintf(w, " (%s)", r.Reason)
		}
		fmt.Fprintf(w, "  evaluation %s\n", r.EvaluationID)
		for _, o := range r.Outcomes {
			fmt.Fprintf(w, "  %d %-24s %-18s %s", o.Order, o.ActionID, o.ActionType, o.Status)
			if o.Reason != "" {
				fmt.Fprintf(w, ": %s", o.Reason)
			}
			fmt.Fprintln(w)
		}
	}
	if len(resp.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warning := range resp.Warnings {
			fmt.Fprintf(w, "  %s\n", warning)
		}
	}
}
