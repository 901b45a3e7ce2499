// Package application provides the application interface for kstartup
// commands and the HTTP server.
//
// Commands accept this interface rather than the concrete App type so they
// can be tested against a Mock:
//
//	mock := &application.Mock{
//	    ClientFunc: func() (kstartup.Client, error) {
//	        return testClient, nil
//	    },
//	}
//	cmd := runs.NewCommand(mock)
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup"
)

// Application provides what commands need from the running application.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Client returns the shared client, creating it on first use.
	Client() (kstartup.Client, error)

	// Metrics returns the registry the client's collectors live in.
	Metrics() prometheus.Gatherer

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, json, yaml, markdown).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
