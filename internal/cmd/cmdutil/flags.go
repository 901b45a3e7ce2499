// Package cmdutil provides shared flags and rendering helpers for kstartup commands.
package cmdutil

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/output"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/store"
)

// MismatchFlags holds the drift report filters.
type MismatchFlags struct {
	Kind  string
	Field string
	RunID string
	Since time.Duration
	Limit int
}

// AddMismatchFlags adds the drift report filters to a command.
func AddMismatchFlags(cmd *cobra.Command, defaultLimit int) *MismatchFlags {
	flags := &MismatchFlags{}

	cmd.Flags().StringVarP(&flags.Kind, "kind", "k", "",
		"Filter by record kind (announcement, business, content, statistics)")
	cmd.Flags().StringVarP(&flags.Field, "field", "f", "",
		"Filter by canonical field name")
	cmd.Flags().StringVar(&flags.RunID, "run", "",
		"Filter by run id")
	cmd.Flags().DurationVar(&flags.Since, "since", 0,
		"Only mismatches observed within this window (e.g. 24h)")
	cmd.Flags().IntVarP(&flags.Limit, "limit", "l", defaultLimit,
		"Limit number of results (0 for all)")

	return flags
}

// Filter converts the flags into a store filter relative to now.
func (f *MismatchFlags) Filter(now time.Time) (store.MismatchFilter, error) {
	filter := store.MismatchFilter{
		Field: f.Field,
		RunID: f.RunID,
		Limit: f.Limit,
	}
	if f.Kind != "" {
		kind, err := records.ParseKind(f.Kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}
	if f.Since < 0 {
		return filter, errors.NewValidationError("since", f.Since, "must not be negative")
	}
	if f.Since > 0 {
		filter.Since = now.Add(-f.Since)
	}
	if f.Limit < 0 {
		return filter, errors.NewValidationError("limit", f.Limit, "must not be negative")
	}
	return filter, nil
}

// Render writes data to the command's output in the application format.
// Table and markdown output use view when given; structured formats always
// encode data itself.
func Render(cmd *cobra.Command, app application.Application, data any, view any) error {
	format := output.DetectFormat(app.OutputFormat())
	if _, err := output.ParseFormat(string(format)); err != nil {
		return err
	}
	if view != nil && (format == output.FormatTable || format == output.FormatMarkdown) {
		data = view
	}
	return output.NewFormatter(format).Format(cmd.OutOrStdout(), data)
}

// MustGetInt retrieves an integer flag value or panics if the flag doesn't exist.
// This should only be used for flags the calling command defines.
func MustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetString retrieves a string flag value or panics if the flag doesn't exist.
func MustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
func MustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetStringSlice retrieves a string slice flag value or panics if the flag doesn't exist.
func MustGetStringSlice(cmd *cobra.Command, name string) []string {
	val, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetDuration retrieves a duration flag value or panics if the flag doesn't exist.
func MustGetDuration(cmd *cobra.Command, name string) time.Duration {
	val, err := cmd.Flags().GetDuration(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}
