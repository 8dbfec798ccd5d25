package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run delayed actions that are due, once",
		Long: `Claim one batch of due delayed actions, run them and exit.

Use this from cron when "serve --no-sweep" is deployed, or to drain the
queue by hand. Actions whose definition was deactivated are cancelled.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runSweep(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	report, err := rt.sweeper().SweepOnce(ctx)
	if err != nil {
		_ = formatter.Error("SWEEP_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "sweep", err)
	}

	if formatter.JSON() {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "claimed %d: %d done, %d retried, %d failed, %d cancelled\n",
		report.Claimed, report.Done, report.Retried, report.Failed, report.Cancelled)
	return nil
}
