package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated tenant. The core trusts the
// resolved TenantID for scoping; everything below this middleware assumes
// it has already been validated.
type Principal struct {
	Tenant *domain.Tenant
}

// AuthMiddleware validates bearer tokens and loads the tenant principal.
type AuthMiddleware struct {
	tokens  *TokenManager
	tenants repository.TenantRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, tenants repository.TenantRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, tenants: tenants}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	tenant, err := m.tenants.GetByID(c.Context(), claims.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("tenant not found")
		}
		return apperrors.MapError(err)
	}
	if !tenant.IsActive {
		return apperrors.NewForbidden("tenant disabled")
	}

	c.Locals(principalKey, &Principal{Tenant: tenant})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated tenant.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
