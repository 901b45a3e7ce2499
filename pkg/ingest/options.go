package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
)

// Option configures a Controller.
type Option func(*config) error

type config struct {
	workers      int
	batchSize    int
	batchRetries int
	batchBackoff time.Duration
	runBudget    time.Duration
	metrics      *Metrics
	logger       *zerolog.Logger
	now          func() time.Time
}

func defaultConfig() *config {
	return &config{
		workers:      constants.DefaultWorkers,
		batchSize:    constants.DefaultBatchSize,
		batchRetries: constants.DefaultBatchRetries,
		batchBackoff: constants.BatchRetryBackoff,
		now:          time.Now,
	}
}

// WithWorkers bounds the number of records normalized concurrently.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return errors.NewValidationError("workers", n, "must be at least 1")
		}
		c.workers = n
		return nil
	}
}

// WithBatchSize sets how many documents are written per store call.
func WithBatchSize(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return errors.NewValidationError("batch_size", n, "must be at least 1")
		}
		c.batchSize = n
		return nil
	}
}

// WithBatchRetries sets how often a failed batch is retried, and the base
// delay between attempts.
func WithBatchRetries(n int, backoff time.Duration) Option {
	return func(c *config) error {
		if n < 0 {
			return errors.NewValidationError("batch_retries", n, "must not be negative")
		}
		c.batchRetries = n
		if backoff > 0 {
			c.batchBackoff = backoff
		}
		return nil
	}
}

// WithRunBudget sets the soft budget for sources that declare none.
func WithRunBudget(d time.Duration) Option {
	return func(c *config) error {
		c.runBudget = d
		return nil
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}

// WithLogger sets the base logger for runs.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}
