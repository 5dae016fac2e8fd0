package domain

import "errors"

// Sentinel validation errors raised by aggregate invariants. Services
// wrap these into transport-facing DomainErrors.
var (
	ErrQueueNameRequired  = errors.New("queue name required")
	ErrInvalidCapacity    = errors.New("max concurrent users must be positive")
	ErrInvalidReleaseRate = errors.New("release rate per minute must be positive")
	ErrInvalidPriority    = errors.New("unknown priority")
)
