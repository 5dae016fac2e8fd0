package domain

import "time"

// Tenant is the isolation boundary owning queues and sessions.
type Tenant struct {
	ID         string
	Name       string
	APIKeyHash string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
