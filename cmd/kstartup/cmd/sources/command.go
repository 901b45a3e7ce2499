// Package sources provides the sources command.
package sources

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/output"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/records"
)

// sourceView is a configured source and its active run, if any.
type sourceView struct {
	fetch.SourceConfig `yaml:",inline"`
	ActiveRun          *records.Run `json:"active_run,omitempty" yaml:"active_run,omitempty"`
}

// NewCommand creates the sources command.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source"},
		GroupID: "core",
		Short:   "List configured sources",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}

			configured := client.Sources()
			active := client.Active()
			views := make([]sourceView, 0, len(configured))
			for _, src := range configured {
				v := sourceView{SourceConfig: src}
				for _, run := range active {
					if run.SourceID == src.ID {
						v.ActiveRun = &run
					}
				}
				views = append(views, v)
			}
			return cmdutil.Render(cmd, app, views, output.Sources(configured, active))
		},
	}
}
