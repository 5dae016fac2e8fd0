package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// QueueAdminService manages queue lifecycle: creation, activation,
// deactivation and capacity updates. Deactivation never evicts active
// sessions; it only blocks new entrants and new releases.
type QueueAdminService struct {
	queues     repository.QueueRepository
	dispatcher events.Dispatcher
	registry   *QueueRegistry
}

// QueueCreateInput describes a new queue.
type QueueCreateInput struct {
	Name                 string
	Description          string
	MaxConcurrentUsers   int
	ReleaseRatePerMinute int
	Schedule             *domain.Schedule
}

// QueueUpdateInput carries updatable policy fields; nil fields are kept.
type QueueUpdateInput struct {
	Description          *string
	MaxConcurrentUsers   *int
	ReleaseRatePerMinute *int
	Schedule             *domain.Schedule
	ClearSchedule        bool
}

// NewQueueAdminService constructs the service. The registry is shared with
// the admission path so policy writes serialize with promotions.
func NewQueueAdminService(queues repository.QueueRepository, dispatcher events.Dispatcher, registry *QueueRegistry) *QueueAdminService {
	return &QueueAdminService{queues: queues, dispatcher: dispatcher, registry: registry}
}

// CreateQueue creates an inactive queue for the tenant.
func (s *QueueAdminService) CreateQueue(ctx context.Context, tenantID string, input QueueCreateInput) (*domain.Queue, error) {
	queue := &domain.Queue{
		TenantID:             tenantID,
		Name:                 strings.TrimSpace(input.Name),
		Description:          strings.TrimSpace(input.Description),
		MaxConcurrentUsers:   input.MaxConcurrentUsers,
		ReleaseRatePerMinute: input.ReleaseRatePerMinute,
		IsActive:             false,
		Schedule:             input.Schedule,
	}
	if err := queue.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if queue.MaxConcurrentUsers <= 0 || queue.ReleaseRatePerMinute <= 0 {
		return nil, apperrors.NewValidationError("max_concurrent_users and release_rate_per_minute must be positive", nil)
	}
	if err := s.queues.Create(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publish(ctx, queue, events.EventQueueCreated)
	return queue, nil
}

// GetQueue fetches one queue scoped to the tenant.
func (s *QueueAdminService) GetQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	queue, err := s.queues.GetByID(ctx, tenantID, queueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewQueueNotFound(queueID)
		}
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

// ListQueues returns the tenant's queues, newest first.
func (s *QueueAdminService) ListQueues(ctx context.Context, tenantID string, limit, offset int) ([]domain.Queue, error) {
	queues, err := s.queues.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return queues, nil
}

// Activate opens the queue for admission.
func (s *QueueAdminService) Activate(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	return s.setActive(ctx, tenantID, queueID, true)
}

// Deactivate closes the queue for new entrants and releases.
func (s *QueueAdminService) Deactivate(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	return s.setActive(ctx, tenantID, queueID, false)
}

func (s *QueueAdminService) setActive(ctx context.Context, tenantID, queueID string, active bool) (*domain.Queue, error) {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	queue, err := s.GetQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	if queue.IsActive == active {
		return queue, nil
	}
	queue.IsActive = active
	if err := queue.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.queues.Update(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	eventType := events.EventQueueDeactivated
	if active {
		eventType = events.EventQueueActivated
	}
	s.publish(ctx, queue, eventType)
	return queue, nil
}

// UpdateQueue applies policy changes to capacity, release rate and schedule.
// The queue lock is held for the whole read-modify-write so promotions never
// observe a capacity mid-change.
func (s *QueueAdminService) UpdateQueue(ctx context.Context, tenantID, queueID string, input QueueUpdateInput) (*domain.Queue, error) {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	queue, err := s.GetQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	if input.Description != nil {
		queue.Description = strings.TrimSpace(*input.Description)
	}
	if input.MaxConcurrentUsers != nil {
		queue.MaxConcurrentUsers = *input.MaxConcurrentUsers
	}
	if input.ReleaseRatePerMinute != nil {
		queue.ReleaseRatePerMinute = *input.ReleaseRatePerMinute
	}
	if input.ClearSchedule {
		queue.Schedule = nil
	} else if input.Schedule != nil {
		queue.Schedule = input.Schedule
	}
	if queue.MaxConcurrentUsers <= 0 || queue.ReleaseRatePerMinute <= 0 {
		return nil, apperrors.NewValidationError("max_concurrent_users and release_rate_per_minute must be positive", nil)
	}
	if err := queue.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.queues.Update(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

func (s *QueueAdminService) publish(ctx context.Context, queue *domain.Queue, eventType events.EventType) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TenantID:  queue.TenantID,
		QueueID:   queue.ID,
		Timestamp: time.Now(),
		Payload: events.QueueLifecyclePayload{
			Name:                 queue.Name,
			MaxConcurrentUsers:   queue.MaxConcurrentUsers,
			ReleaseRatePerMinute: queue.ReleaseRatePerMinute,
		},
	})
}
