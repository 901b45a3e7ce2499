// Package emoji provides symbol constants for CLI output.
package emoji

import "github.com/agentstation/kstartup/pkg/records"

// Symbol constants for CLI status lines.
const (
	// Success marks a completed run or a clean shutdown.
	Success = "✓"

	// Error marks a failed run.
	Error = "✗"

	// Stop marks a shutdown in progress.
	Stop = "■"

	// Warning marks a rejected trigger or partial outcome.
	Warning = "!"

	// Running marks a run that has not finished.
	Running = "…"

	Rocket = "🚀"
)

// ForState returns the symbol for a run state.
func ForState(s records.State) string {
	switch s {
	case records.StateCompleted:
		return Success
	case records.StateFailed:
		return Error
	default:
		return Running
	}
}
