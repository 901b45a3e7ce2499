package app

import (
	"testing"

	"github.com/agentstation/kstartup/internal/config"
)

// TestDetermineLogLevel tests the log level precedence logic.
func TestDetermineLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		config   *config.Config
		expected string
	}{
		{
			name:     "default level when no flags set",
			config:   &config.Config{},
			expected: "info",
		},
		{
			name:     "verbose flag sets debug",
			config:   &config.Config{Verbose: true},
			expected: "debug",
		},
		{
			name:     "quiet flag sets warn",
			config:   &config.Config{Quiet: true},
			expected: "warn",
		},
		{
			name:     "explicit log-level overrides verbose",
			config:   &config.Config{LogLevel: "error", Verbose: true},
			expected: "error",
		},
		{
			name:     "verbose and quiet resolves to quiet",
			config:   &config.Config{Verbose: true, Quiet: true},
			expected: "warn",
		},
		{
			name:     "invalid level falls back to info",
			config:   &config.Config{LogLevel: "loud"},
			expected: "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineLogLevel(tt.config); got != tt.expected {
				t.Errorf("determineLogLevel() = %q, want %q", got, tt.expected)
			}
		})
	}
}
