package kstartup

import (
	"context"
	"time"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/logging"
)

// Compile-time interface check to ensure proper implementation.
var _ AutoIngester = (*client)(nil)

// AutoIngester provides controls for scheduled ingestion.
type AutoIngester interface {
	// AutoIngestOn starts triggering the scheduled sources on every tick
	AutoIngestOn() error

	// AutoIngestOff stops scheduled ingestion. Active runs are not canceled.
	AutoIngestOff() error
}

// AutoIngestOn starts triggering the scheduled sources on every tick.
func (c *client) AutoIngestOn() error {
	if c.options.autoIngestInterval <= 0 {
		return &errors.ValidationError{
			Field:   "autoIngestInterval",
			Value:   c.options.autoIngestInterval,
			Message: "ingest interval must be positive",
		}
	}

	ids := c.options.autoIngestSources
	if len(ids) == 0 {
		for _, src := range c.controller.Sources() {
			ids = append(ids, src.ID)
		}
	}
	for _, id := range ids {
		if _, ok := c.controller.Source(id); !ok {
			return errors.NewNotFoundError("source", id)
		}
	}

	// Stop any existing schedule to prevent resource leaks
	if err := c.AutoIngestOff(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Recreate stopCh since it was closed in AutoIngestOff
	c.stopCh = make(chan struct{})
	c.ingestTicker = time.NewTicker(c.options.autoIngestInterval)

	ctx, cancel := context.WithCancel(context.Background())
	c.ingestCancel = cancel

	go func(ticker *time.Ticker, stopCh chan struct{}) {
		for {
			select {
			case <-ticker.C:
				c.triggerScheduled(ctx, ids)
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}(c.ingestTicker, c.stopCh)

	logging.Info().
		Dur("interval", c.options.autoIngestInterval).
		Strs("sources", ids).
		Msg("Scheduled ingestion started")
	return nil
}

// triggerScheduled fires one trigger per source. A source still running
// from the previous tick is skipped.
func (c *client) triggerScheduled(ctx context.Context, ids []string) {
	for _, id := range ids {
		res, err := c.controller.Trigger(ctx, id)
		switch {
		case err != nil:
			logging.Error().Err(err).Str("source", id).Msg("Scheduled trigger failed")
		case !res.Accepted:
			logging.Debug().
				Str("source", id).
				Str("run_id", res.Run.ID).
				Msg("Scheduled trigger skipped, run still active")
		}
	}
}

// AutoIngestOff stops scheduled ingestion.
func (c *client) AutoIngestOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ingestTicker != nil {
		c.ingestTicker.Stop()
		c.ingestTicker = nil
	}
	if c.ingestCancel != nil {
		c.ingestCancel()
		c.ingestCancel = nil
	}
	select {
	case <-c.stopCh:
		// Already closed
	default:
		close(c.stopCh)
	}
	return nil
}
