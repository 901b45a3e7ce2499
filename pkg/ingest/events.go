package ingest

import (
	"sync"
	"time"

	"github.com/agentstation/kstartup/pkg/records"
)

// EventType names a run lifecycle event.
type EventType string

// Run events.
const (
	RunStarted  EventType = "run.started"
	RunState    EventType = "run.state"
	RunFinished EventType = "run.finished"
)

// Event is published on every state change of a run.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Run       records.Run `json:"run"`
}

// Listener receives run events synchronously; it must not block.
type Listener func(Event)

type listeners struct {
	mu  sync.RWMutex
	fns []Listener
}

func (l *listeners) add(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *listeners) publish(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, fn := range l.fns {
		fn(e)
	}
}
