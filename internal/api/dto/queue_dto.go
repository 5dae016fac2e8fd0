package dto

import "time"

// CreateQueueRequest payload for queue creation.
type CreateQueueRequest struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	MaxConcurrentUsers   int        `json:"max_concurrent_users"`
	ReleaseRatePerMinute int        `json:"release_rate_per_minute"`
	OpensAt              *time.Time `json:"opens_at,omitempty"`
	ClosesAt             *time.Time `json:"closes_at,omitempty"`
}

// UpdateQueueRequest payload for policy updates; omitted fields are kept.
type UpdateQueueRequest struct {
	Description          *string    `json:"description,omitempty"`
	MaxConcurrentUsers   *int       `json:"max_concurrent_users,omitempty"`
	ReleaseRatePerMinute *int       `json:"release_rate_per_minute,omitempty"`
	OpensAt              *time.Time `json:"opens_at,omitempty"`
	ClosesAt             *time.Time `json:"closes_at,omitempty"`
	ClearSchedule        bool       `json:"clear_schedule,omitempty"`
}

// QueueResponse is the API view of a queue.
type QueueResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	MaxConcurrentUsers   int        `json:"max_concurrent_users"`
	ReleaseRatePerMinute int        `json:"release_rate_per_minute"`
	IsActive             bool       `json:"is_active"`
	OpensAt              *time.Time `json:"opens_at,omitempty"`
	ClosesAt             *time.Time `json:"closes_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ReleaseTickResponse reports one manually triggered release cycle.
type ReleaseTickResponse struct {
	Promoted      []string `json:"promoted"`
	AlreadyActive []string `json:"already_active"`
	Skipped       []string `json:"skipped"`
}
