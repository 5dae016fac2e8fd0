package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/virtual-queue/internal/cache"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/observability"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// PositionService resolves a user's 1-based rank among the waiting
// sessions of a queue. Positions are a derived projection: the cache is
// read-through with a short TTL and is recomputed from the session store
// on every miss, so losing it costs latency, never correctness.
type PositionService struct {
	sessions repository.SessionRepository
	cache    cache.PositionCache
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// PositionStatus is the resolved view returned to status queries.
type PositionStatus struct {
	SessionID string
	Status    domain.SessionStatus
	Position  int
}

// NewPositionService constructs the service.
func NewPositionService(sessions repository.SessionRepository, positionCache cache.PositionCache, logger *zap.Logger, metrics *observability.Metrics) *PositionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionService{sessions: sessions, cache: positionCache, logger: logger, metrics: metrics}
}

// GetPosition returns the rank of the open session for the identifier.
// Active sessions report position 0 (already released). Position is
// 1 + the number of waiting sessions strictly ordered before the target.
func (s *PositionService) GetPosition(ctx context.Context, tenantID, queueID, userIdentifier string) (*PositionStatus, error) {
	session, err := s.sessions.GetOpenByUser(ctx, tenantID, queueID, userIdentifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewSessionNotFound(userIdentifier)
		}
		return nil, apperrors.MapError(err)
	}

	if session.Status == domain.SessionStatusActive {
		return &PositionStatus{SessionID: session.ID, Status: session.Status, Position: 0}, nil
	}

	if s.cache != nil {
		position, hit, err := s.cache.Get(ctx, tenantID, queueID, userIdentifier)
		if err != nil {
			s.logger.Warn("position cache read failed", zap.String("queue_id", queueID), zap.Error(err))
		} else if hit {
			s.metrics.RecordCacheLookup("hit")
			return &PositionStatus{SessionID: session.ID, Status: session.Status, Position: position}, nil
		}
	}
	s.metrics.RecordCacheLookup("miss")

	position, err := s.computePosition(ctx, tenantID, queueID, session)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, tenantID, queueID, userIdentifier, position); err != nil {
			s.logger.Warn("position cache write failed", zap.String("queue_id", queueID), zap.Error(err))
		}
	}
	return &PositionStatus{SessionID: session.ID, Status: session.Status, Position: position}, nil
}

func (s *PositionService) computePosition(ctx context.Context, tenantID, queueID string, target *domain.UserSession) (int, error) {
	waiting, err := s.sessions.ListWaiting(ctx, tenantID, queueID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	position := 1
	for i := range waiting {
		if waiting[i].ID == target.ID {
			continue
		}
		if domain.OrderedBefore(&waiting[i], target) {
			position++
		}
	}
	return position, nil
}
