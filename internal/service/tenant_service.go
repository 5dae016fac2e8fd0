package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/virtual-queue/internal/auth"
	"github.com/spec-kit/virtual-queue/internal/config"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// TenantService provisions tenants and exchanges API keys for tokens.
type TenantService struct {
	tenants repository.TenantRepository
	tokens  *auth.TokenManager
	cfg     config.AuthConfig
}

// NewTenantService constructs the service.
func NewTenantService(tenants repository.TenantRepository, cfg config.AuthConfig) *TenantService {
	return &TenantService{
		tenants: tenants,
		tokens:  auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		cfg:     cfg,
	}
}

// TokenManager exposes the manager for the auth middleware.
func (s *TenantService) TokenManager() *auth.TokenManager {
	return s.tokens
}

// RegisterTenant creates a tenant and returns the plaintext API key; the
// key is stored only as a bcrypt hash and cannot be retrieved again.
func (s *TenantService) RegisterTenant(ctx context.Context, name string) (*domain.Tenant, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", apperrors.NewValidationError("name required", nil)
	}
	if existing, err := s.tenants.GetByName(ctx, name); err == nil && existing != nil {
		return nil, "", apperrors.NewDomainError("CONFLICT", "tenant name already taken", 409, nil)
	}

	apiKey := "vq_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := auth.HashAPIKey(apiKey, s.cfg.BcryptCost)
	if err != nil {
		return nil, "", apperrors.NewInternalError(err)
	}

	tenant := &domain.Tenant{
		Name:       name,
		APIKeyHash: hash,
		IsActive:   true,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, "", apperrors.MapError(err)
	}
	return tenant, apiKey, nil
}

// IssueToken validates the API key and returns a signed bearer token.
func (s *TenantService) IssueToken(ctx context.Context, tenantName, apiKey string) (string, time.Time, error) {
	tenant, err := s.tenants.GetByName(ctx, strings.TrimSpace(tenantName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return "", time.Time{}, apperrors.MapError(err)
	}
	if !tenant.IsActive {
		return "", time.Time{}, apperrors.NewForbidden("tenant disabled")
	}
	if err := auth.CompareAPIKey(tenant.APIKeyHash, apiKey); err != nil {
		return "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.tokens.GenerateToken(tenant.ID, tenant.Name)
}
