// Package events defines the event envelope carried on the in-process bus and
// forwarded to WebSocket observers, plus the per-client replay buffer used for
// reconnection.
package events

import (
	"sync/atomic"
	"time"
)

// Lifecycle event types published by the workflow coordinator.
const (
	TypeSequenceStarted   = "WorkflowSequenceStarted"
	TypeSequenceCompleted = "WorkflowSequenceCompleted"
	TypeSequenceFailed    = "WorkflowSequenceFailed"
	TypeStepStarted       = "WorkflowStepStarted"
	TypeStepCompleted     = "WorkflowStepCompleted"
	TypeStepFailed        = "WorkflowStepFailed"
)

// Quality gate event types.
const (
	TypeQualityGateStarted = "QualityGateStarted"
	TypeQualityGatePassed  = "QualityGatePassed"
	TypeQualityGateFailed  = "QualityGateFailed"
)

// Ceremony event types.
const (
	TypeCeremonyStarted   = "CeremonyStarted"
	TypeCeremonyCompleted = "CeremonyCompleted"
	TypeCeremonyFailed    = "CeremonyFailed"
)

// Domain event types.
const (
	TypeFileModified    = "file.modified"
	TypeThreadCreated   = "thread.created"
	TypeThreadReply     = "thread.reply"
	TypeThreadUpdated   = "thread.updated"
	TypeSystemHeartbeat = "system.heartbeat"
)

// timestampLayout is ISO 8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the envelope delivered to bus subscribers and WebSocket clients.
// SequenceNumber is zero until the hub stamps the event for delivery.
type Event struct {
	Type           string         `json:"type"`
	Timestamp      string         `json:"timestamp"`
	SequenceNumber uint64         `json:"sequence_number"`
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// New creates an event of the given type with the current timestamp.
func New(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(timestampLayout),
		Data:      data,
	}
}

// WithMetadata returns a copy of the event carrying the given metadata map.
func (e Event) WithMetadata(md map[string]any) Event {
	e.Metadata = md
	return e
}

// Sequencer issues hub-wide monotonically increasing sequence numbers.
// Safe for concurrent use.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the most recently issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}
