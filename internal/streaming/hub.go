package streaming

import "context"

// StreamEvent is a real-time event emitted while a playbook runs.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	Step      string `json:"step,omitempty"`
	Index     int    `json:"index,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Zero values match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run and step events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
