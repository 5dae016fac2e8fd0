package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/virtual-queue/internal/cache"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/observability"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// AdmissionService owns every status transition of a queue's sessions.
// All mutations of one queue run under the registry's per-queue lock.
type AdmissionService struct {
	queues        repository.QueueRepository
	sessions      repository.SessionRepository
	cache         cache.PositionCache
	dispatcher    events.Dispatcher
	registry      *QueueRegistry
	logger        *zap.Logger
	metrics       *observability.Metrics
	retryAttempts int
	now           func() time.Time
}

// AdmissionDependencies bundles collaborators for the admission service.
type AdmissionDependencies struct {
	QueueRepo     repository.QueueRepository
	SessionRepo   repository.SessionRepository
	PositionCache cache.PositionCache
	Dispatcher    events.Dispatcher
	Registry      *QueueRegistry
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	RetryAttempts int
	Clock         func() time.Time
}

// EnqueueInput describes a new entrant.
type EnqueueInput struct {
	UserIdentifier string
	Priority       domain.Priority
	Metadata       string
}

// PromotionResult reports the outcome of a Promote call. Skipped entries
// are not errors: the remainder beyond free capacity and sessions that
// raced into another state simply stay where they are.
type PromotionResult struct {
	Promoted      []string
	AlreadyActive []string
	Skipped       []string
}

// NewAdmissionService constructs the service.
func NewAdmissionService(deps AdmissionDependencies) *AdmissionService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	attempts := deps.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		queues:        deps.QueueRepo,
		sessions:      deps.SessionRepo,
		cache:         deps.PositionCache,
		dispatcher:    deps.Dispatcher,
		registry:      deps.Registry,
		logger:        logger,
		metrics:       deps.Metrics,
		retryAttempts: attempts,
		now:           now,
	}
}

// Enqueue admits a user into the waiting line and returns the new session.
func (s *AdmissionService) Enqueue(ctx context.Context, tenantID, queueID string, input EnqueueInput) (*domain.UserSession, error) {
	if input.UserIdentifier == "" {
		return nil, apperrors.NewValidationError("user_identifier required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": string(input.Priority)})
	}

	queue, err := s.getQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}

	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	now := s.now()
	if !queue.AcceptsEntrants(now) {
		s.metrics.RecordQueueOperation("enqueue", queueID, "rejected")
		return nil, apperrors.NewQueueInactive(queueID)
	}

	existing, err := s.sessions.GetOpenByUser(ctx, tenantID, queueID, input.UserIdentifier)
	if err == nil && existing != nil {
		s.metrics.RecordQueueOperation("enqueue", queueID, "duplicate")
		return nil, apperrors.NewDuplicateSession(existing.ID)
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	session := &domain.UserSession{
		TenantID:       tenantID,
		QueueID:        queueID,
		UserIdentifier: input.UserIdentifier,
		Priority:       priority,
		Status:         domain.SessionStatusWaiting,
		Metadata:       input.Metadata,
		EnqueuedAt:     now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.invalidatePositions(ctx, tenantID, queueID)
	s.metrics.RecordQueueOperation("enqueue", queueID, "ok")
	s.publishTransition(ctx, session, "", domain.SessionStatusWaiting, events.EventSessionEnqueued,
		events.SessionEnqueuedPayload{Priority: session.Priority})
	return session, nil
}

// Leave records a voluntary exit of a waiting session.
func (s *AdmissionService) Leave(ctx context.Context, tenantID, queueID, sessionID string) error {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()
	return s.leaveLocked(ctx, tenantID, queueID, sessionID)
}

// LeaveByUser resolves the open session for the identifier and leaves it.
func (s *AdmissionService) LeaveByUser(ctx context.Context, tenantID, queueID, userIdentifier string) error {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	session, err := s.sessions.GetOpenByUser(ctx, tenantID, queueID, userIdentifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewSessionNotFound(userIdentifier)
		}
		return apperrors.MapError(err)
	}
	return s.leaveLocked(ctx, tenantID, queueID, session.ID)
}

func (s *AdmissionService) leaveLocked(ctx context.Context, tenantID, queueID, sessionID string) error {
	session, err := s.transition(ctx, tenantID, queueID, sessionID, domain.SessionStatusLeft, nil)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeInvalidStateTransition) {
			// not waiting anymore; report the precise no-op kind
			if current, getErr := s.sessions.GetByID(ctx, tenantID, queueID, sessionID); getErr == nil {
				return apperrors.NewSessionNotWaiting(sessionID, string(current.Status))
			}
		}
		return err
	}

	s.invalidatePositions(ctx, tenantID, queueID)
	s.metrics.RecordQueueOperation("leave", queueID, "ok")
	s.publishTransition(ctx, session, domain.SessionStatusWaiting, domain.SessionStatusLeft, events.EventSessionLeft, nil)
	return nil
}

// Serve records that the downstream resource finished with an active user.
func (s *AdmissionService) Serve(ctx context.Context, tenantID, queueID, sessionID string) error {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	now := s.now()
	session, err := s.transition(ctx, tenantID, queueID, sessionID, domain.SessionStatusServed, func(sess *domain.UserSession) {
		sess.ServedAt = &now
	})
	if err != nil {
		return err
	}

	s.metrics.RecordQueueOperation("serve", queueID, "ok")
	s.publishTransition(ctx, session, domain.SessionStatusActive, domain.SessionStatusServed, events.EventSessionServed, nil)
	return nil
}

// Drop removes a session (no-show, administrative removal, or active-slot
// expiry). Waiting and Active sessions both drop; terminal sessions error.
func (s *AdmissionService) Drop(ctx context.Context, tenantID, queueID, sessionID, reason string) error {
	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()
	return s.dropLocked(ctx, tenantID, queueID, sessionID, reason)
}

func (s *AdmissionService) dropLocked(ctx context.Context, tenantID, queueID, sessionID, reason string) error {
	before, err := s.sessions.GetByID(ctx, tenantID, queueID, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewSessionNotFound(sessionID)
		}
		return apperrors.MapError(err)
	}
	oldStatus := before.Status

	session, err := s.transition(ctx, tenantID, queueID, sessionID, domain.SessionStatusDropped, nil)
	if err != nil {
		return err
	}

	if oldStatus == domain.SessionStatusWaiting {
		s.invalidatePositions(ctx, tenantID, queueID)
	}
	s.metrics.RecordQueueOperation("drop", queueID, "ok")
	s.publishTransition(ctx, session, oldStatus, domain.SessionStatusDropped, events.EventSessionDropped,
		events.SessionDroppedPayload{Reason: reason})
	return nil
}

// ComputeFreeCapacity returns MaxConcurrentUsers minus the current active
// count, never negative.
func (s *AdmissionService) ComputeFreeCapacity(ctx context.Context, tenantID, queueID string) (int, error) {
	queue, err := s.getQueue(ctx, tenantID, queueID)
	if err != nil {
		return 0, err
	}
	active, err := s.sessions.CountByStatus(ctx, tenantID, queueID, domain.SessionStatusActive)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return queue.FreeCapacity(active), nil
}

// SelectNextToPromote returns the ids of the next n waiting sessions in
// promotion order: priority descending, enqueue time ascending, session id
// ascending. The order is computed fresh from the current waiting set.
func (s *AdmissionService) SelectNextToPromote(ctx context.Context, tenantID, queueID string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	waiting, err := s.sessions.ListWaiting(ctx, tenantID, queueID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(waiting) > n {
		waiting = waiting[:n]
	}
	ids := make([]string, 0, len(waiting))
	for i := range waiting {
		ids = append(ids, waiting[i].ID)
	}
	return ids, nil
}

// Promote transitions the given waiting sessions to Active, clamped to
// free capacity. Re-promoting an already-active session is a no-op; a
// session that raced into another state is skipped. Partial success is
// the normal outcome, never an error.
func (s *AdmissionService) Promote(ctx context.Context, tenantID, queueID string, sessionIDs []string) (*PromotionResult, error) {
	result := &PromotionResult{
		Promoted:      []string{},
		AlreadyActive: []string{},
		Skipped:       []string{},
	}
	if len(sessionIDs) == 0 {
		return result, nil
	}

	unlock := s.registry.Lock(tenantID, queueID)
	defer unlock()

	// fetched under the lock so a concurrent capacity change cannot slip
	// between the read and the active count below
	queue, err := s.getQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}

	if !queue.IsActive {
		result.Skipped = append(result.Skipped, sessionIDs...)
		return result, nil
	}

	active, err := s.sessions.CountByStatus(ctx, tenantID, queueID, domain.SessionStatusActive)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	free := queue.FreeCapacity(active)
	now := s.now()

	for _, sessionID := range sessionIDs {
		session, err := s.sessions.GetByID(ctx, tenantID, queueID, sessionID)
		if err != nil {
			result.Skipped = append(result.Skipped, sessionID)
			continue
		}
		if session.Status == domain.SessionStatusActive {
			result.AlreadyActive = append(result.AlreadyActive, sessionID)
			continue
		}
		if session.Status != domain.SessionStatusWaiting {
			result.Skipped = append(result.Skipped, sessionID)
			continue
		}
		if len(result.Promoted) >= free {
			result.Skipped = append(result.Skipped, sessionID)
			continue
		}

		releasedAt := now
		session.Status = domain.SessionStatusActive
		session.ReleasedAt = &releasedAt
		if err := s.sessions.UpdateStatus(ctx, session, domain.SessionStatusWaiting); err != nil {
			// a concurrent Leave or Drop won; continue with the batch
			s.logger.Debug("promotion skipped",
				zap.String("session_id", sessionID),
				zap.Error(err))
			result.Skipped = append(result.Skipped, sessionID)
			continue
		}

		result.Promoted = append(result.Promoted, sessionID)
		s.metrics.RecordQueueOperation("promote", queueID, "ok")
		s.publishTransition(ctx, session, domain.SessionStatusWaiting, domain.SessionStatusActive, events.EventSessionPromoted,
			events.SessionPromotedPayload{ReleasedAt: releasedAt})
	}

	if len(result.Promoted) > 0 {
		s.invalidatePositions(ctx, tenantID, queueID)
	}
	s.refreshGauges(ctx, tenantID, queueID)
	return result, nil
}

// ListActiveExpired returns ids of active sessions released before the
// cutoff, candidates for the arrival-expiry sweep.
func (s *AdmissionService) ListActiveExpired(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]string, error) {
	sessions, err := s.sessions.ListActiveReleasedBefore(ctx, tenantID, queueID, cutoff)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return sessionIDs(sessions), nil
}

// ListWaitingExpired returns ids of waiting sessions enqueued before the
// cutoff, candidates for the no-show sweep.
func (s *AdmissionService) ListWaitingExpired(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]string, error) {
	sessions, err := s.sessions.ListWaitingEnqueuedBefore(ctx, tenantID, queueID, cutoff)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return sessionIDs(sessions), nil
}

func sessionIDs(sessions []domain.UserSession) []string {
	ids := make([]string, 0, len(sessions))
	for i := range sessions {
		ids = append(ids, sessions[i].ID)
	}
	return ids
}

// transition applies one state-machine edge with a bounded retry on store
// contention. The per-queue lock already serializes in-process writers;
// retries cover external ones.
func (s *AdmissionService) transition(ctx context.Context, tenantID, queueID, sessionID string, to domain.SessionStatus, mutate func(*domain.UserSession)) (*domain.UserSession, error) {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		session, err := s.sessions.GetByID(ctx, tenantID, queueID, sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NewSessionNotFound(sessionID)
			}
			return nil, apperrors.MapError(err)
		}
		if !domain.CanTransition(session.Status, to) {
			return nil, apperrors.NewInvalidStateTransition(sessionID, string(session.Status), string(to))
		}

		from := session.Status
		session.Status = to
		if mutate != nil {
			mutate(session)
		}
		err = s.sessions.UpdateStatus(ctx, session, from)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.MapError(err)
		}
		lastErr = err
		time.Sleep(time.Duration(rand.Intn(20)+5) * time.Millisecond)
	}
	return nil, apperrors.NewConcurrentModification(lastErr)
}

func (s *AdmissionService) getQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	queue, err := s.queues.GetByID(ctx, tenantID, queueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewQueueNotFound(queueID)
		}
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

func (s *AdmissionService) invalidatePositions(ctx context.Context, tenantID, queueID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateQueue(ctx, tenantID, queueID); err != nil {
		s.logger.Warn("position cache invalidation failed",
			zap.String("queue_id", queueID),
			zap.Error(err))
	}
}

func (s *AdmissionService) refreshGauges(ctx context.Context, tenantID, queueID string) {
	if s.metrics == nil {
		return
	}
	waiting, err := s.sessions.CountByStatus(ctx, tenantID, queueID, domain.SessionStatusWaiting)
	if err != nil {
		return
	}
	active, err := s.sessions.CountByStatus(ctx, tenantID, queueID, domain.SessionStatusActive)
	if err != nil {
		return
	}
	s.metrics.SetSessionGauges(queueID, waiting, active)
}

func (s *AdmissionService) publishTransition(ctx context.Context, session *domain.UserSession, oldStatus, newStatus domain.SessionStatus, eventType events.EventType, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		TenantID:       session.TenantID,
		QueueID:        session.QueueID,
		SessionID:      session.ID,
		UserIdentifier: session.UserIdentifier,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		Timestamp:      s.now(),
		Payload:        payload,
	}
	_ = s.dispatcher.Publish(ctx, event)
}
