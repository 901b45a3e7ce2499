package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/kstartup/cmd/drift"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/ingest"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/runs"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/serve"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/sources"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/tables"
	"github.com/agentstation/kstartup/cmd/kstartup/cmd/version"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(ingest.NewCommand(a))
	rootCmd.AddCommand(serve.NewCommand(a))
	rootCmd.AddCommand(sources.NewCommand(a))

	// Report commands
	rootCmd.AddCommand(runs.NewCommand(a))
	rootCmd.AddCommand(drift.NewMismatchesCommand(a))
	rootCmd.AddCommand(drift.NewDriftCommand(a))

	// Table commands
	rootCmd.AddCommand(tables.NewTaxonomyCommand(a))
	rootCmd.AddCommand(tables.NewMappingsCommand(a))

	rootCmd.AddCommand(version.NewCommand(a))
}
