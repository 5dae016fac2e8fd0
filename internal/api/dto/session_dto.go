package dto

import "time"

// EnqueueRequest payload for joining a queue.
type EnqueueRequest struct {
	UserIdentifier string `json:"user_identifier"`
	Priority       string `json:"priority,omitempty"`
	Metadata       string `json:"metadata,omitempty"`
}

// SessionResponse is the API view of a user session.
type SessionResponse struct {
	ID             string     `json:"id"`
	QueueID        string     `json:"queue_id"`
	UserIdentifier string     `json:"user_identifier"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Metadata       string     `json:"metadata,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	ServedAt       *time.Time `json:"served_at,omitempty"`
}

// PositionResponse reports a user's current rank. A released user reports
// position 0 with status ACTIVE.
type PositionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Position  int    `json:"position"`
}

// LeaveRequest payload for a voluntary exit keyed by user identifier.
type LeaveRequest struct {
	UserIdentifier string `json:"user_identifier"`
}

// DropRequest payload for administrative session removal.
type DropRequest struct {
	Reason string `json:"reason,omitempty"`
}
