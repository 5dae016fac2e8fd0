package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/virtual-queue/internal/domain"
)

// TenantRepository encapsulates tenant persistence.
type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant) error
	GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error)
	GetByName(ctx context.Context, name string) (*domain.Tenant, error)
}

type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository instantiates repository.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

func (r *tenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	const query = `
        INSERT INTO tenants (name, api_key_hash, is_active)
        VALUES ($1,$2,$3)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		tenant.Name,
		tenant.APIKeyHash,
		tenant.IsActive,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
}

func (r *tenantRepository) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	const query = `
        SELECT id, name, api_key_hash, is_active, created_at, updated_at
        FROM tenants WHERE id=$1`
	return r.fetchSingle(ctx, query, tenantID)
}

func (r *tenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	const query = `
        SELECT id, name, api_key_hash, is_active, created_at, updated_at
        FROM tenants WHERE name=$1`
	return r.fetchSingle(ctx, query, name)
}

func (r *tenantRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKeyHash,
		&tenant.IsActive,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &tenant, nil
}
