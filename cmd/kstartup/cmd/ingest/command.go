// Package ingest provides the ingest command, which runs sources to
// completion in the foreground.
package ingest

import (
	stderrors "errors"
	"fmt"
	"slices"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/kstartup"
	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/emoji"
	"github.com/agentstation/kstartup/internal/cmd/output"
	"github.com/agentstation/kstartup/pkg/errors"
	pkgingest "github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/records"
)

// NewCommand creates the ingest command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ingest [source-id...]",
		GroupID: "core",
		Short:   "Run ingestion for one or more sources",
		Long: `Ingest pages through each source's upstream listing, normalizes and
reconciles the records, and upserts them into the configured store.

Sources run concurrently; a source that already has an active run is
reported and skipped. Interrupting the command cancels active runs, which
end as failed with reason "canceled".`,
		Example: `  kstartup ingest announcements          # Ingest one source
  kstartup ingest --all                  # Ingest every configured source
  kstartup ingest --all --progress -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, app, args)
		},
	}

	cmd.Flags().Bool("all", false, "Ingest every configured source")
	cmd.Flags().Bool("progress", false, "Print run state changes to stderr")

	return cmd
}

func run(cmd *cobra.Command, app application.Application, args []string) error {
	client, err := app.Client()
	if err != nil {
		return err
	}

	ids, err := selectSources(client, args, cmdutil.MustGetBool(cmd, "all"))
	if err != nil {
		return err
	}

	if cmdutil.MustGetBool(cmd, "progress") {
		client.OnEvent(func(e pkgingest.Event) {
			if !slices.Contains(ids, e.Run.SourceID) {
				return
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", emoji.ForState(e.Run.State), e.Run.SourceID, e.Run.State)
		})
	}

	logger := app.Logger()
	runs := make([]records.Run, len(ids))
	var (
		mu      sync.Mutex
		skipped []string
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	for i, id := range ids {
		g.Go(func() error {
			run, err := client.Ingest(ctx, id)
			switch {
			case stderrors.Is(err, errors.ErrAlreadyRunning):
				logger.Warn().Str("source", id).Str("run_id", run.ID).Msg("Source already has an active run")
				mu.Lock()
				skipped = append(skipped, id)
				mu.Unlock()
				return nil
			case err != nil:
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	finished := slices.DeleteFunc(runs, func(r records.Run) bool { return r.ID == "" })
	if err := cmdutil.Render(cmd, app, finished, output.Runs(finished)); err != nil {
		return err
	}

	failed := 0
	for _, r := range finished {
		if r.State == records.StateFailed {
			failed++
		}
	}
	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d runs failed", failed, len(finished))
	case len(skipped) > 0:
		return fmt.Errorf("skipped sources with an active run: %v", skipped)
	}
	return nil
}

// selectSources resolves the source ids to run, in configuration order.
func selectSources(client kstartup.Client, args []string, all bool) ([]string, error) {
	configured := make([]string, 0)
	for _, src := range client.Sources() {
		configured = append(configured, src.ID)
	}

	if all {
		if len(args) > 0 {
			return nil, errors.NewValidationError("all", args, "cannot be combined with source ids")
		}
		return configured, nil
	}
	if len(args) == 0 {
		return nil, errors.NewValidationError("source", nil, "name a source id or pass --all")
	}

	seen := make(map[string]bool, len(args))
	out := make([]string, 0, len(args))
	for _, id := range args {
		if !slices.Contains(configured, id) {
			return nil, errors.NewNotFoundError("source", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
