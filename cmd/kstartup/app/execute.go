package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/config"
	"github.com/agentstation/kstartup/pkg/errors"
)

// Execute runs the kstartup CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "kstartup",
		Short:   "K-Startup open data ingestion",
		Version: a.version,
		Long: `kstartup ingests the K-Startup open data listings (support program
announcements, integrated business summaries, startup content and
statistical reports) into a document store.

Each run pages through an upstream listing, validates and normalizes the
records, upserts them by natural key and records where upstream
classification values drift from the maintained taxonomy.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{
		ID:    "core",
		Title: "Core Commands:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "reports",
		Title: "Report Commands:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "tables",
		Title: "Table Commands:",
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is $HOME/.kstartup.yaml)")
	flags.BoolP("verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolP("quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	flags.Bool("no-color", false, "disable colored output")
	flags.StringP("format", "o", "", "output format: table, json, yaml, markdown")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("kstartup {{.Version}}\n")

	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	if a.configFile != "" {
		cfg, err := config.Load(a.configFile)
		if err != nil {
			return errors.WrapResource("load", "config", a.configFile, err)
		}
		a.config = cfg
	}

	a.config.UpdateFromFlags(
		cmdutil.MustGetBool(cmd, "verbose"),
		cmdutil.MustGetBool(cmd, "quiet"),
		cmdutil.MustGetBool(cmd, "no-color"),
		cmdutil.MustGetString(cmd, "format"),
		cmdutil.MustGetString(cmd, "log-level"),
	)

	logger := NewLogger(a.config)
	a.logger = &logger
	if a.config.ConfigFile != "" {
		a.logger.Debug().Str("file", a.config.ConfigFile).Msg("Config file loaded")
	}
	return nil
}

// ExitOnError prints err and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
