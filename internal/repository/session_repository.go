package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/virtual-queue/internal/domain"
)

// SessionRepository encapsulates user session persistence. Status mutation
// goes through UpdateStatus only: a conditional write that fails with
// ErrConflict when the expected prior status no longer matches, which is
// how racing Leave/Promote calls observe each other.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.UserSession) error
	GetByID(ctx context.Context, tenantID, queueID, sessionID string) (*domain.UserSession, error)
	GetOpenByUser(ctx context.Context, tenantID, queueID, userIdentifier string) (*domain.UserSession, error)
	UpdateStatus(ctx context.Context, session *domain.UserSession, expected domain.SessionStatus) error
	ListWaiting(ctx context.Context, tenantID, queueID string) ([]domain.UserSession, error)
	CountByStatus(ctx context.Context, tenantID, queueID string, status domain.SessionStatus) (int, error)
	ListActiveReleasedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error)
	ListWaitingEnqueuedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, tenant_id, queue_id, user_identifier, priority, status, metadata,
       enqueued_at, released_at, served_at, updated_at`

func (r *sessionRepository) Create(ctx context.Context, session *domain.UserSession) error {
	const query = `
        INSERT INTO user_sessions (tenant_id, queue_id, user_identifier, priority, status, metadata, enqueued_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, updated_at`
	return r.pool.QueryRow(ctx, query,
		session.TenantID,
		session.QueueID,
		session.UserIdentifier,
		session.Priority,
		session.Status,
		session.Metadata,
		session.EnqueuedAt,
	).Scan(&session.ID, &session.UpdatedAt)
}

func (r *sessionRepository) GetByID(ctx context.Context, tenantID, queueID, sessionID string) (*domain.UserSession, error) {
	const query = `
        SELECT ` + sessionColumns + `
        FROM user_sessions WHERE id=$1 AND queue_id=$2 AND tenant_id=$3`
	row := r.pool.QueryRow(ctx, query, sessionID, queueID, tenantID)
	return scanSession(row)
}

func (r *sessionRepository) GetOpenByUser(ctx context.Context, tenantID, queueID, userIdentifier string) (*domain.UserSession, error) {
	const query = `
        SELECT ` + sessionColumns + `
        FROM user_sessions
        WHERE queue_id=$1 AND tenant_id=$2 AND user_identifier=$3 AND status IN ('WAITING','ACTIVE')`
	row := r.pool.QueryRow(ctx, query, queueID, tenantID, userIdentifier)
	return scanSession(row)
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, session *domain.UserSession, expected domain.SessionStatus) error {
	const query = `
        UPDATE user_sessions SET status=$1, released_at=$2, served_at=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5`
	cmd, err := r.pool.Exec(ctx, query,
		session.Status,
		session.ReleasedAt,
		session.ServedAt,
		session.ID,
		expected,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *sessionRepository) ListWaiting(ctx context.Context, tenantID, queueID string) ([]domain.UserSession, error) {
	const query = `
        SELECT ` + sessionColumns + `
        FROM user_sessions
        WHERE queue_id=$1 AND tenant_id=$2 AND status='WAITING'
        ORDER BY CASE priority WHEN 'HIGH' THEN 3 WHEN 'NORMAL' THEN 2 ELSE 1 END DESC,
                 enqueued_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, queueID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *sessionRepository) CountByStatus(ctx context.Context, tenantID, queueID string, status domain.SessionStatus) (int, error) {
	const query = `
        SELECT COUNT(*) FROM user_sessions WHERE queue_id=$1 AND tenant_id=$2 AND status=$3`
	var count int
	if err := r.pool.QueryRow(ctx, query, queueID, tenantID, status).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *sessionRepository) ListActiveReleasedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error) {
	const query = `
        SELECT ` + sessionColumns + `
        FROM user_sessions
        WHERE queue_id=$1 AND tenant_id=$2 AND status='ACTIVE' AND released_at < $3`
	rows, err := r.pool.Query(ctx, query, queueID, tenantID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *sessionRepository) ListWaitingEnqueuedBefore(ctx context.Context, tenantID, queueID string, cutoff time.Time) ([]domain.UserSession, error) {
	const query = `
        SELECT ` + sessionColumns + `
        FROM user_sessions
        WHERE queue_id=$1 AND tenant_id=$2 AND status='WAITING' AND enqueued_at < $3`
	rows, err := r.pool.Query(ctx, query, queueID, tenantID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func scanSession(row rowScanner) (*domain.UserSession, error) {
	var session domain.UserSession
	if err := row.Scan(
		&session.ID,
		&session.TenantID,
		&session.QueueID,
		&session.UserIdentifier,
		&session.Priority,
		&session.Status,
		&session.Metadata,
		&session.EnqueuedAt,
		&session.ReleasedAt,
		&session.ServedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]domain.UserSession, error) {
	sessions := []domain.UserSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}
