package domain

import "time"

// SessionStatus enumerates lifecycle states for user sessions.
type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "WAITING"
	SessionStatusActive  SessionStatus = "ACTIVE"
	SessionStatusServed  SessionStatus = "SERVED"
	SessionStatusDropped SessionStatus = "DROPPED"
	SessionStatusLeft    SessionStatus = "LEFT"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusServed, SessionStatusDropped, SessionStatusLeft:
		return true
	case SessionStatusWaiting, SessionStatusActive:
		return false
	}
	return false
}

// Priority enumerates release-order urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Rank maps a priority to its ordinal weight; higher releases first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// UserSession is one user's occupancy of a position in a queue's lifecycle.
type UserSession struct {
	ID             string
	TenantID       string
	QueueID        string
	UserIdentifier string
	Priority       Priority
	Status         SessionStatus
	Metadata       string
	EnqueuedAt     time.Time
	ReleasedAt     *time.Time
	ServedAt       *time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the session still occupies its uniqueness slot.
func (s *UserSession) IsOpen() bool {
	return !s.Status.IsTerminal()
}

var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusWaiting: {SessionStatusActive, SessionStatusLeft, SessionStatusDropped},
	SessionStatusActive:  {SessionStatusServed, SessionStatusDropped},
	SessionStatusServed:  {},
	SessionStatusDropped: {},
	SessionStatusLeft:    {},
}

// CanTransition reports whether current may move to next.
func CanTransition(current, next SessionStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// OrderedBefore reports whether a releases ahead of b. The order is
// priority rank descending, enqueue time ascending, with the session id
// as the final tie break so the ordering is total.
func OrderedBefore(a, b *UserSession) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
