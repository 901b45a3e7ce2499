// Package tables provides the taxonomy and mappings commands, which show
// the reference tables the client runs with.
package tables

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/output"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

// NewTaxonomyCommand creates the taxonomy command.
func NewTaxonomyCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:       "taxonomy [domain]",
		GroupID:   "tables",
		Short:     "Show the classification taxonomy",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: domainNames(),
		Example: `  kstartup taxonomy                      # Every domain
  kstartup taxonomy region -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}

			domains := taxonomy.Domains()
			if len(args) == 1 {
				d := taxonomy.Domain(args[0])
				if !d.Valid() {
					return errors.NewValidationError("domain", args[0], "unknown taxonomy domain")
				}
				domains = []taxonomy.Domain{d}
			}

			table := client.Taxonomy()
			entries := make(map[taxonomy.Domain][]taxonomy.Entry, len(domains))
			for _, d := range domains {
				entries[d] = table.Entries(d)
			}
			return cmdutil.Render(cmd, app, entries, output.Taxonomy(table, domains...))
		},
	}
}

// NewMappingsCommand creates the mappings command.
func NewMappingsCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "mappings [kind]",
		Aliases: []string{"mapping"},
		GroupID: "tables",
		Short:   "Show the upstream to canonical field mappings",
		Args:    cobra.MaximumNArgs(1),
		Example: `  kstartup mappings announcement
  kstartup mappings -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}

			fields := client.Mappings()
			kinds := fields.KindNames()
			if len(args) == 1 {
				kind, err := records.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []records.Kind{kind}
			}

			selected := make([]*fieldmap.KindTable, 0, len(kinds))
			for _, kind := range kinds {
				kt, ok := fields.Kind(kind)
				if !ok {
					return errors.NewNotFoundError("field mapping", string(kind))
				}
				selected = append(selected, kt)
			}

			if len(selected) == 1 {
				return cmdutil.Render(cmd, app, selected[0], output.Mappings(selected[0]))
			}
			format := output.DetectFormat(app.OutputFormat())
			if format != output.FormatTable && format != output.FormatMarkdown {
				return cmdutil.Render(cmd, app, selected, nil)
			}
			for _, kt := range selected {
				if err := cmdutil.Render(cmd, app, kt, output.Mappings(kt)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func domainNames() []string {
	domains := taxonomy.Domains()
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = string(d)
	}
	return out
}
