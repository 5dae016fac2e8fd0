package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/virtual-queue/internal/domain"
)

// QueueRepository encapsulates queue persistence.
type QueueRepository interface {
	Create(ctx context.Context, queue *domain.Queue) error
	Update(ctx context.Context, queue *domain.Queue) error
	GetByID(ctx context.Context, tenantID, queueID string) (*domain.Queue, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]domain.Queue, error)
	ListActive(ctx context.Context) ([]domain.Queue, error)
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository instantiates repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

func (r *queueRepository) Create(ctx context.Context, queue *domain.Queue) error {
	const query = `
        INSERT INTO queues (tenant_id, name, description, max_concurrent_users, release_rate_per_minute, is_active, opens_at, closes_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	opensAt, closesAt := scheduleColumns(queue.Schedule)
	return r.pool.QueryRow(ctx, query,
		queue.TenantID,
		queue.Name,
		queue.Description,
		queue.MaxConcurrentUsers,
		queue.ReleaseRatePerMinute,
		queue.IsActive,
		opensAt,
		closesAt,
	).Scan(&queue.ID, &queue.CreatedAt, &queue.UpdatedAt)
}

func (r *queueRepository) Update(ctx context.Context, queue *domain.Queue) error {
	const query = `
        UPDATE queues SET name=$1, description=$2, max_concurrent_users=$3, release_rate_per_minute=$4,
            is_active=$5, opens_at=$6, closes_at=$7, updated_at=NOW()
        WHERE id=$8 AND tenant_id=$9`
	opensAt, closesAt := scheduleColumns(queue.Schedule)
	cmd, err := r.pool.Exec(ctx, query,
		queue.Name,
		queue.Description,
		queue.MaxConcurrentUsers,
		queue.ReleaseRatePerMinute,
		queue.IsActive,
		opensAt,
		closesAt,
		queue.ID,
		queue.TenantID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *queueRepository) GetByID(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	const query = `
        SELECT id, tenant_id, name, description, max_concurrent_users, release_rate_per_minute,
               is_active, opens_at, closes_at, created_at, updated_at
        FROM queues WHERE id=$1 AND tenant_id=$2`
	row := r.pool.QueryRow(ctx, query, queueID, tenantID)
	return scanQueue(row)
}

func (r *queueRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]domain.Queue, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, tenant_id, name, description, max_concurrent_users, release_rate_per_minute,
               is_active, opens_at, closes_at, created_at, updated_at
        FROM queues WHERE tenant_id=$1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQueues(rows)
}

func (r *queueRepository) ListActive(ctx context.Context) ([]domain.Queue, error) {
	const query = `
        SELECT id, tenant_id, name, description, max_concurrent_users, release_rate_per_minute,
               is_active, opens_at, closes_at, created_at, updated_at
        FROM queues WHERE is_active = TRUE
        ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQueues(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (*domain.Queue, error) {
	var queue domain.Queue
	var opensAt, closesAt *time.Time
	if err := row.Scan(
		&queue.ID,
		&queue.TenantID,
		&queue.Name,
		&queue.Description,
		&queue.MaxConcurrentUsers,
		&queue.ReleaseRatePerMinute,
		&queue.IsActive,
		&opensAt,
		&closesAt,
		&queue.CreatedAt,
		&queue.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if opensAt != nil && closesAt != nil {
		queue.Schedule = &domain.Schedule{OpensAt: *opensAt, ClosesAt: *closesAt}
	}
	return &queue, nil
}

func collectQueues(rows pgx.Rows) ([]domain.Queue, error) {
	queues := []domain.Queue{}
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, *queue)
	}
	return queues, rows.Err()
}

func scheduleColumns(schedule *domain.Schedule) (*time.Time, *time.Time) {
	if schedule == nil {
		return nil, nil
	}
	opens := schedule.OpensAt
	closes := schedule.ClosesAt
	return &opens, &closes
}
