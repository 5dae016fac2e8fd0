package domain

import "time"

// Queue is the aggregate for one logical waiting line.
type Queue struct {
	ID                   string
	TenantID             string
	Name                 string
	Description          string
	MaxConcurrentUsers   int
	ReleaseRatePerMinute int
	IsActive             bool
	Schedule             *Schedule
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Schedule bounds admission to a window; outside it Enqueue is rejected.
type Schedule struct {
	OpensAt  time.Time
	ClosesAt time.Time
}

// Within reports whether t falls inside the window.
func (s *Schedule) Within(t time.Time) bool {
	if s == nil {
		return true
	}
	return !t.Before(s.OpensAt) && t.Before(s.ClosesAt)
}

// AcceptsEntrants reports whether the queue admits new sessions at t.
func (q *Queue) AcceptsEntrants(t time.Time) bool {
	return q.IsActive && q.Schedule.Within(t)
}

// FreeCapacity returns the number of Active slots remaining given the
// current active count, never negative.
func (q *Queue) FreeCapacity(activeCount int) int {
	free := q.MaxConcurrentUsers - activeCount
	if free < 0 {
		return 0
	}
	return free
}

// Validate checks the aggregate invariants for an active queue.
func (q *Queue) Validate() error {
	if q.Name == "" {
		return ErrQueueNameRequired
	}
	if q.IsActive {
		if q.MaxConcurrentUsers <= 0 {
			return ErrInvalidCapacity
		}
		if q.ReleaseRatePerMinute <= 0 {
			return ErrInvalidReleaseRate
		}
	}
	return nil
}
