// Package drift provides the mismatches and drift commands, which read the
// classification mismatch report.
package drift

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/output"
)

// NewMismatchesCommand creates the mismatches command, which lists raw
// mismatch entries newest first.
func NewMismatchesCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mismatches",
		Aliases: []string{"mismatch"},
		GroupID: "reports",
		Short:   "List classification mismatches",
		Example: `  kstartup mismatches --field business_category --since 24h
  kstartup mismatches --run 3f2a9c1e-... -o json`,
		Args: cobra.NoArgs,
	}
	flags := cmdutil.AddMismatchFlags(cmd, 50)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		filter, err := flags.Filter(time.Now())
		if err != nil {
			return err
		}
		client, err := app.Client()
		if err != nil {
			return err
		}
		found, err := client.Mismatches(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return cmdutil.Render(cmd, app, found, output.Mismatches(found))
	}
	return cmd
}

// NewDriftCommand creates the drift command, which groups mismatches by
// field and observed value.
func NewDriftCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drift",
		GroupID: "reports",
		Short:   "Summarize classification drift",
		Long: `Drift groups recorded mismatches by field and observed value, with the
nearest taxonomy code suggested for each value. Use it to decide which
upstream values need a mapping or a new code.

Markdown output (-o markdown) renders a standalone report.`,
		Example: `  kstartup drift
  kstartup drift --kind announcement --since 168h -o markdown > drift.md`,
		Args: cobra.NoArgs,
	}
	flags := cmdutil.AddMismatchFlags(cmd, 0)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		filter, err := flags.Filter(time.Now())
		if err != nil {
			return err
		}
		client, err := app.Client()
		if err != nil {
			return err
		}
		summary, err := client.Drift(cmd.Context(), filter)
		if err != nil {
			return err
		}

		// The markdown report has its own layout.
		if output.DetectFormat(app.OutputFormat()) == output.FormatMarkdown {
			return cmdutil.Render(cmd, app, summary, nil)
		}
		return cmdutil.Render(cmd, app, summary, output.Drift(summary))
	}
	return cmd
}
