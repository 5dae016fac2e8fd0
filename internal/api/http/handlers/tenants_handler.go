package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/virtual-queue/internal/api/dto"
	"github.com/spec-kit/virtual-queue/internal/service"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// TenantsHandler manages tenant provisioning and token issuance.
type TenantsHandler struct {
	service *service.TenantService
}

// NewTenantsHandler constructs handler.
func NewTenantsHandler(tenantService *service.TenantService) *TenantsHandler {
	return &TenantsHandler{service: tenantService}
}

// Register POST /auth/tenants/register.
func (h *TenantsHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	tenant, apiKey, err := h.service.RegisterTenant(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.RegisterTenantResponse{
		TenantID: tenant.ID,
		Name:     tenant.Name,
		APIKey:   apiKey,
	}})
}

// Token POST /auth/token.
func (h *TenantsHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TenantName == "" || req.APIKey == "" {
		return apperrors.NewValidationError("tenant_name, api_key required", nil)
	}
	token, expiresAt, err := h.service.IssueToken(c.UserContext(), req.TenantName, req.APIKey)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}})
}
