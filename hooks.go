package kstartup

import (
	"sync"

	"github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/records"
)

// Compile-time interface check to ensure proper implementation.
var _ Hooks = (*client)(nil)

// Hook function types for run events
type (
	// RunStartedHook is called when a run has been accepted and is about to fetch
	RunStartedHook func(run records.Run)

	// RunFinishedHook is called when a run reaches completed or failed
	RunFinishedHook func(run records.Run)
)

// Hooks provides access to run callbacks.
type Hooks interface {
	// OnRunStarted registers a callback for when runs start
	OnRunStarted(RunStartedHook)

	// OnRunFinished registers a callback for when runs finish
	OnRunFinished(RunFinishedHook)

	// OnEvent registers a callback for every run event, state changes included
	OnEvent(ingest.Listener)
}

// hooks manages run callbacks. Callbacks run synchronously on the run's
// goroutine and must not block.
type hooks struct {
	mu            sync.RWMutex
	onRunStarted  []RunStartedHook
	onRunFinished []RunFinishedHook
	onEvent       []ingest.Listener
}

func newHooks() *hooks {
	return &hooks{}
}

func (h *hooks) dispatch(e ingest.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, fn := range h.onEvent {
		fn(e)
	}
	switch e.Type {
	case ingest.RunStarted:
		for _, fn := range h.onRunStarted {
			fn(e.Run)
		}
	case ingest.RunFinished:
		for _, fn := range h.onRunFinished {
			fn(e.Run)
		}
	}
}

// OnRunStarted registers a callback for when runs start.
func (c *client) OnRunStarted(fn RunStartedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onRunStarted = append(c.hooks.onRunStarted, fn)
}

// OnRunFinished registers a callback for when runs finish.
func (c *client) OnRunFinished(fn RunFinishedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onRunFinished = append(c.hooks.onRunFinished, fn)
}

// OnEvent registers a callback for every run event.
func (c *client) OnEvent(fn ingest.Listener) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onEvent = append(c.hooks.onEvent, fn)
}
