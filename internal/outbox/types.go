// Package outbox implements the transactional outbox: durable events
// recorded alongside message writes and relayed asynchronously to the
// message broker.
package outbox

import "time"

// EventTypeMessageReceived is emitted once per non-duplicate inbound
// recording.
const EventTypeMessageReceived = "message.received"

// Event is one durable outbox row.
type Event struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
	Attempts     int            `json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
}

// Envelope is the wire format published to the broker: event metadata plus
// the payload.
type Envelope struct {
	Meta Meta           `json:"meta"`
	Data map[string]any `json:"data"`
}

// Meta identifies and timestamps a published event.
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}
