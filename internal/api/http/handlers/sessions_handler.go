package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/virtual-queue/internal/api/dto"
	"github.com/spec-kit/virtual-queue/internal/auth"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/service"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// SessionsHandler manages queue membership endpoints.
type SessionsHandler struct {
	admission *service.AdmissionService
	positions *service.PositionService
}

// NewSessionsHandler constructs handler.
func NewSessionsHandler(admission *service.AdmissionService, positions *service.PositionService) *SessionsHandler {
	return &SessionsHandler{admission: admission, positions: positions}
}

// Enqueue POST /v1/queues/:id/sessions.
func (h *SessionsHandler) Enqueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var req dto.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	session, err := h.admission.Enqueue(c.UserContext(), principal.Tenant.ID, c.Params("id"), service.EnqueueInput{
		UserIdentifier: req.UserIdentifier,
		Priority:       domain.Priority(strings.ToUpper(req.Priority)),
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": sessionResponse(session)})
}

// Position GET /v1/queues/:id/sessions/position.
func (h *SessionsHandler) Position(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	userIdentifier := c.Query("user_identifier")
	if userIdentifier == "" {
		return apperrors.NewValidationError("user_identifier query parameter required", nil)
	}
	status, err := h.positions.GetPosition(c.UserContext(), principal.Tenant.ID, c.Params("id"), userIdentifier)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.PositionResponse{
		SessionID: status.SessionID,
		Status:    string(status.Status),
		Position:  status.Position,
	}})
}

// Leave POST /v1/queues/:id/sessions/leave. Accepts the user identifier
// so that a client can exit without knowing its session id.
func (h *SessionsHandler) Leave(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var req dto.LeaveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.UserIdentifier == "" {
		return apperrors.NewValidationError("user_identifier required", nil)
	}
	if err := h.admission.LeaveByUser(c.UserContext(), principal.Tenant.ID, c.Params("id"), req.UserIdentifier); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LeaveByID POST /v1/queues/:id/sessions/:sessionId/leave.
func (h *SessionsHandler) LeaveByID(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	if err := h.admission.Leave(c.UserContext(), principal.Tenant.ID, c.Params("id"), c.Params("sessionId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Serve POST /v1/queues/:id/sessions/:sessionId/serve.
func (h *SessionsHandler) Serve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	if err := h.admission.Serve(c.UserContext(), principal.Tenant.ID, c.Params("id"), c.Params("sessionId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Drop POST /v1/queues/:id/sessions/:sessionId/drop.
func (h *SessionsHandler) Drop(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var req dto.DropRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator_drop"
	}
	if err := h.admission.Drop(c.UserContext(), principal.Tenant.ID, c.Params("id"), c.Params("sessionId"), reason); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func sessionResponse(s *domain.UserSession) dto.SessionResponse {
	return dto.SessionResponse{
		ID:             s.ID,
		QueueID:        s.QueueID,
		UserIdentifier: s.UserIdentifier,
		Priority:       string(s.Priority),
		Status:         string(s.Status),
		Metadata:       s.Metadata,
		EnqueuedAt:     s.EnqueuedAt,
		ReleasedAt:     s.ReleasedAt,
		ServedAt:       s.ServedAt,
	}
}
