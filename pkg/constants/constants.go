// Package constants provides shared constants used throughout the kstartup codebase.
// This includes timeouts, retry and batch limits, file permissions, and the
// default upstream endpoint.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the per-request timeout for upstream page fetches
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRunBudget is the soft wall-clock budget of one ingestion run.
	// Once spent, no new pages are requested and the run drains.
	DefaultRunBudget = 20 * time.Minute

	// DefaultIngestInterval is the default interval between scheduled runs
	DefaultIngestInterval = 6 * time.Hour

	// ShutdownTimeout bounds how long shutdown waits for in-flight runs
	ShutdownTimeout = 30 * time.Second

	// RetryBackoff is the base backoff duration for transient retries
	RetryBackoff = 500 * time.Millisecond

	// RateLimitBackoff is the base backoff after an upstream 429
	RateLimitBackoff = 5 * time.Second

	// MaxRetryBackoff is the maximum backoff duration for retries
	MaxRetryBackoff = 30 * time.Second

	// BatchRetryBackoff is the base backoff between persistence batch attempts
	BatchRetryBackoff = 200 * time.Millisecond
)

// File permission constants define standard Unix file permissions
const (
	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Limit constants define various limits and capacities
const (
	// MaxRetries is the maximum number of retry attempts for a page request
	MaxRetries = 3

	// DefaultPageSize is the default number of upstream items per page
	DefaultPageSize = 100

	// MaxPageSize is the largest page size upstream accepts
	MaxPageSize = 1000

	// DefaultMaxPages is the default page-count safety bound per run
	DefaultMaxPages = 500

	// DefaultWorkers is the default record-processing pool size
	DefaultWorkers = 8

	// DefaultBatchSize is the default number of decisions per persistence batch
	DefaultBatchSize = 50

	// DefaultBatchRetries is the number of retries for a failed batch
	DefaultBatchRetries = 2

	// ChannelBufferSize is the queue length of event fan-out channels
	ChannelBufferSize = 256

	// MaxRunHistory is how many finished runs the in-memory run store keeps
	MaxRunHistory = 200
)

// Rate limiting constants
const (
	// DefaultRateLimit is the default upstream requests per second
	DefaultRateLimit = 5

	// BurstSize is the token bucket burst size for rate limiting
	BurstSize = 5
)

// Upstream defaults
const (
	// DefaultBaseURL is the K-Startup open data gateway
	DefaultBaseURL = "https://apis.data.go.kr/B552735/kisedKstartupService01"

	// DefaultAPIKeyEnv is the environment variable holding the service key
	DefaultAPIKeyEnv = "KSTARTUP_SERVICE_KEY"

	// DefaultAPIKeyParam is the query parameter carrying the service key
	DefaultAPIKeyParam = "serviceKey"
)
