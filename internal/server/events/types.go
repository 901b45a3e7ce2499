// Package events fans run events out to the real-time transports.
//
// The run controller's listeners publish into a Broker, which forwards
// every event to the registered subscribers (WebSocket, SSE) without
// blocking the run that produced it.
package events

import (
	"time"

	"github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/records"
)

// EventType names a run lifecycle event on the wire.
type EventType string

// Event types.
const (
	RunStarted  EventType = EventType(ingest.RunStarted)
	RunState    EventType = EventType(ingest.RunState)
	RunFinished EventType = EventType(ingest.RunFinished)
)

// Event is one run lifecycle event as the broker sees it.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Run       records.Run
}

// FromRun converts a run controller event.
func FromRun(e ingest.Event) Event {
	return Event{Type: EventType(e.Type), Timestamp: e.Timestamp, Run: e.Run}
}

// ID identifies the event within its run. A run publishes at most one
// event per state, so run id and state are unique.
func (e Event) ID() string {
	return e.Run.ID + ":" + string(e.Run.State)
}

// RunPayload is the body delivered to real-time clients.
type RunPayload struct {
	RunID     string        `json:"run_id"`
	Source    string        `json:"source"`
	Kind      records.Kind  `json:"kind"`
	State     records.State `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Drained   bool          `json:"drained,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Stats     records.Stats `json:"stats"`

	// Failed is validation plus persistence failures, for dashboards
	// that show a single failure count.
	Failed int `json:"failed"`
}

// Payload builds the client body for e.
func (e Event) Payload() RunPayload {
	r := e.Run
	return RunPayload{
		RunID:     r.ID,
		Source:    r.SourceID,
		Kind:      r.Kind,
		State:     r.State,
		Reason:    r.Reason,
		Drained:   r.Drained,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Stats:     r.Stats,
		Failed:    r.RecordsFailedValidation + r.RecordsFailedPersistence,
	}
}
