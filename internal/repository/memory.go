package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/virtual-queue/internal/domain"
)

// In-memory implementations of the repository interfaces. They back the
// service when POSTGRES_DSN is absent and the unit tests. Not-found is
// reported as pgx.ErrNoRows so error mapping stays uniform across both
// store implementations.

// MemoryQueueRepository is a map-backed QueueRepository.
type MemoryQueueRepository struct {
	mu     sync.RWMutex
	queues map[string]domain.Queue
}

// NewMemoryQueueRepository constructs an empty store.
func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{queues: make(map[string]domain.Queue)}
}

func (r *MemoryQueueRepository) Create(ctx context.Context, queue *domain.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue.ID == "" {
		queue.ID = uuid.NewString()
	}
	now := time.Now()
	queue.CreatedAt = now
	queue.UpdatedAt = now
	r.queues[queue.ID] = *queue
	return nil
}

func (r *MemoryQueueRepository) Update(ctx context.Context, queue *domain.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.queues[queue.ID]
	if !ok || existing.TenantID != queue.TenantID {
		return pgx.ErrNoRows
	}
	queue.UpdatedAt = time.Now()
	r.queues[queue.ID] = *queue
	return nil
}

func (r *MemoryQueueRepository) GetByID(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queue, ok := r.queues[queueID]
	if !ok || queue.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	copied := queue
	return &copied, nil
}

func (r *MemoryQueueRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]domain.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	queues := []domain.Queue{}
	for _, queue := range r.queues {
		if queue.TenantID == tenantID {
			queues = append(queues, queue)
		}
	}
	sort.Slice(queues, func(i, j int) bool {
		return queues[i].CreatedAt.After(queues[j].CreatedAt)
	})
	if offset >= len(queues) {
		return []domain.Queue{}, nil
	}
	queues = queues[offset:]
	if len(queues) > limit {
		queues = queues[:limit]
	}
	return queues, nil
}

func (r *MemoryQueueRepository) ListActive(ctx context.Context) ([]domain.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queues := []domain.Queue{}
	for _, queue := range r.queues {
		if queue.IsActive {
			queues = append(queues, queue)
		}
	}
	sort.Slice(queues, func(i, j int) bool {
		return queues[i].CreatedAt.Before(queues[j].CreatedAt)
	})
	return queues, nil
}

// MemorySessionRepository is a map-backed SessionRepository.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.UserSession
}

// NewMemorySessionRepository constructs an empty store.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]domain.UserSession)}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *domain.UserSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.UpdatedAt = time.Now()
	r.sessions[session.ID] = *session
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, tenantID, queueID, sessionID string) (*domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.TenantID != tenantID || session.QueueID != queueID {
		return nil, pgx.ErrNoRows
	}
	copied := session
	return &copied, nil
}

func (r *MemorySessionRepository) GetOpenByUser(ctx context.Context, tenantID, queueID, userIdentifier string) (*domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.TenantID == tenantID && session.QueueID == queueID &&
			session.UserIdentifier == userIdentifier && session.IsOpen() {
			copied := session
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *MemorySessionRepository) UpdateStatus(ctx context.Context, session *domain.UserSession, expected domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.sessions[session.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if existing.Status != expected {
		return ErrConflict
	}
	session.UpdatedAt = time.Now()
	r.sessions[session.ID] = *session
	return nil
}

func (r *MemorySessionRepository) ListWaiting(ctx context.Context, tenantID, queueID string) ([]domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.filter(tenantID, queueID, func(s *domain.UserSession) bool {
		return s.Status == domain.SessionStatusWaiting
	})
	sort.Slice(sessions, func(i, j int) bool {
		return domain.OrderedBefore(&sessions[i], &sessions[j])
	})
	return sessions, nil
}

func (r *MemorySessionRepository) CountByStatus(ctx context.Context, tenantID, queueID string, status domain.SessionStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, session := range r.sessions {
		if session.TenantID == tenantID && session.QueueID == queueID && session.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *MemorySessionRepository) ListActiveReleasedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(tenantID, queueID, func(s *domain.UserSession) bool {
		return s.Status == domain.SessionStatusActive && s.ReleasedAt != nil && s.ReleasedAt.Before(cutoff)
	}), nil
}

func (r *MemorySessionRepository) ListWaitingEnqueuedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(tenantID, queueID, func(s *domain.UserSession) bool {
		return s.Status == domain.SessionStatusWaiting && s.EnqueuedAt.Before(cutoff)
	}), nil
}

func (r *MemorySessionRepository) filter(tenantID, queueID string, keep func(*domain.UserSession) bool) []domain.UserSession {
	sessions := []domain.UserSession{}
	for _, session := range r.sessions {
		if session.TenantID == tenantID && session.QueueID == queueID {
			copied := session
			if keep(&copied) {
				sessions = append(sessions, copied)
			}
		}
	}
	return sessions
}

// MemoryTenantRepository is a map-backed TenantRepository.
type MemoryTenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]domain.Tenant
}

// NewMemoryTenantRepository constructs an empty store.
func NewMemoryTenantRepository() *MemoryTenantRepository {
	return &MemoryTenantRepository{tenants: make(map[string]domain.Tenant)}
}

func (r *MemoryTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	r.tenants[tenant.ID] = *tenant
	return nil
}

func (r *MemoryTenantRepository) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := tenant
	return &copied, nil
}

func (r *MemoryTenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tenant := range r.tenants {
		if tenant.Name == name {
			copied := tenant
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

var (
	_ QueueRepository   = (*MemoryQueueRepository)(nil)
	_ SessionRepository = (*MemorySessionRepository)(nil)
	_ TenantRepository  = (*MemoryTenantRepository)(nil)
)
