// Package runs provides the runs command for reading run history.
package runs

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/output"
	"github.com/agentstation/kstartup/pkg/errors"
)

// NewCommand creates the runs command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runs [run-id]",
		Aliases: []string{"run"},
		GroupID: "reports",
		Short:   "Show run history",
		Long: `Runs lists recorded ingestion runs, newest first, with their outcome
counters. Given a run id it shows that run in detail; an active run shows
its live counters.`,
		Example: `  kstartup runs                          # Latest runs of every source
  kstartup runs --source announcements   # Latest runs of one source
  kstartup runs 3f2a9c1e-...             # One run in detail`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				run, err := client.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return cmdutil.Render(cmd, app, run, output.Run(run))
			}

			source := cmdutil.MustGetString(cmd, "source")
			limit := cmdutil.MustGetInt(cmd, "limit")
			if limit < 0 {
				return errors.NewValidationError("limit", limit, "must not be negative")
			}
			runs, err := client.Runs(cmd.Context(), source, limit)
			if err != nil {
				return err
			}
			return cmdutil.Render(cmd, app, runs, output.Runs(runs))
		},
	}

	cmd.Flags().StringP("source", "s", "", "Only runs of this source")
	cmd.Flags().IntP("limit", "l", 20, "Limit number of runs (0 for all)")

	return cmd
}
