package events

import (
	"time"

	"github.com/spec-kit/virtual-queue/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionEnqueued  EventType = "session_enqueued"
	EventSessionPromoted  EventType = "session_promoted"
	EventSessionLeft      EventType = "session_left"
	EventSessionDropped   EventType = "session_dropped"
	EventSessionServed    EventType = "session_served"
	EventQueueCreated     EventType = "queue_created"
	EventQueueActivated   EventType = "queue_activated"
	EventQueueDeactivated EventType = "queue_deactivated"
)

// Event represents a domain event emitted by services. Session events
// carry the old and new status so consumers can apply them idempotently.
type Event struct {
	ID             string               `json:"id"`
	Type           EventType            `json:"type"`
	TenantID       string               `json:"tenant_id"`
	QueueID        string               `json:"queue_id"`
	SessionID      string               `json:"session_id,omitempty"`
	UserIdentifier string               `json:"user_identifier,omitempty"`
	OldStatus      domain.SessionStatus `json:"old_status,omitempty"`
	NewStatus      domain.SessionStatus `json:"new_status,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
	Payload        interface{}          `json:"payload,omitempty"`
}

// SessionEnqueuedPayload payload.
type SessionEnqueuedPayload struct {
	Priority domain.Priority `json:"priority"`
}

// SessionPromotedPayload payload.
type SessionPromotedPayload struct {
	ReleasedAt time.Time `json:"released_at"`
}

// SessionDroppedPayload payload.
type SessionDroppedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// QueueLifecyclePayload payload for queue_* events.
type QueueLifecyclePayload struct {
	Name                 string `json:"name"`
	MaxConcurrentUsers   int    `json:"max_concurrent_users"`
	ReleaseRatePerMinute int    `json:"release_rate_per_minute"`
}
