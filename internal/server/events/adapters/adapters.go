// Package adapters delivers broker events over the WebSocket hub and the
// SSE broadcaster. Both transports carry the same RunPayload body.
package adapters

import (
	"github.com/agentstation/kstartup/internal/server/events"
	"github.com/agentstation/kstartup/internal/server/sse"
	ws "github.com/agentstation/kstartup/internal/server/websocket"
)

// WebSocketSubscriber broadcasts run events as hub messages.
type WebSocketSubscriber struct {
	hub *ws.Hub
}

// NewWebSocketSubscriber creates a subscriber for hub.
func NewWebSocketSubscriber(hub *ws.Hub) *WebSocketSubscriber {
	return &WebSocketSubscriber{hub: hub}
}

// Send implements events.Subscriber.
func (w *WebSocketSubscriber) Send(event events.Event) error {
	w.hub.Broadcast(Message(event))
	return nil
}

// Close implements events.Subscriber. The hub outlives its subscriber.
func (w *WebSocketSubscriber) Close() error { return nil }

// Message is the hub message for event.
func Message(event events.Event) ws.Message {
	return ws.Message{
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Data:      event.Payload(),
	}
}

// SSESubscriber broadcasts run events as server-sent events. The event id
// lets clients tell a repeated delivery from a new state.
type SSESubscriber struct {
	broadcaster *sse.Broadcaster
}

// NewSSESubscriber creates a subscriber for broadcaster.
func NewSSESubscriber(broadcaster *sse.Broadcaster) *SSESubscriber {
	return &SSESubscriber{broadcaster: broadcaster}
}

// Send implements events.Subscriber.
func (s *SSESubscriber) Send(event events.Event) error {
	s.broadcaster.Broadcast(ServerEvent(event))
	return nil
}

// Close implements events.Subscriber.
func (s *SSESubscriber) Close() error { return nil }

// ServerEvent is the SSE frame for event.
func ServerEvent(event events.Event) sse.Event {
	return sse.Event{
		Event: string(event.Type),
		ID:    event.ID(),
		Data:  event.Payload(),
	}
}
