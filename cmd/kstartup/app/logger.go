package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/internal/config"
	"github.com/agentstation/kstartup/pkg/logging"
)

// NewLogger creates a configured logger based on the application configuration.
// Log level precedence (highest to lowest):
//  1. --log-level flag or KSTARTUP_LOG_LEVEL
//  2. -v/--verbose flag (shortcut for debug)
//  3. -q/--quiet flag (shortcut for warn)
//  4. Default (info)
func NewLogger(cfg *config.Config) zerolog.Logger {
	level := determineLogLevel(cfg)

	return logging.NewLoggerFromConfig(&logging.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Output:    cfg.LogOutput,
		NoColor:   cfg.NoColor,
		AddCaller: level == "debug" || level == "trace",
	})
}

func determineLogLevel(cfg *config.Config) string {
	if cfg.LogLevel != "" {
		validated := validateLogLevel(cfg.LogLevel)
		if validated != cfg.LogLevel {
			fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using %q\n", cfg.LogLevel, validated)
		}
		return validated
	}

	if cfg.Verbose && cfg.Quiet {
		fmt.Fprintf(os.Stderr, "Warning: both --verbose and --quiet specified, using --quiet\n")
		return "warn"
	}
	if cfg.Verbose {
		return "debug"
	}
	if cfg.Quiet {
		return "warn"
	}
	return "info"
}

// validateLogLevel returns level when valid and "info" otherwise.
func validateLogLevel(level string) string {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	}
	return "info"
}
