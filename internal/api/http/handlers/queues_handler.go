package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/virtual-queue/internal/api/dto"
	"github.com/spec-kit/virtual-queue/internal/auth"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/service"
	"github.com/spec-kit/virtual-queue/internal/worker"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

// QueuesHandler manages queue administration endpoints.
type QueuesHandler struct {
	admin    *service.QueueAdminService
	releaser *worker.ReleaseWorker
}

// NewQueuesHandler constructs handler.
func NewQueuesHandler(admin *service.QueueAdminService, releaser *worker.ReleaseWorker) *QueuesHandler {
	return &QueuesHandler{admin: admin, releaser: releaser}
}

// CreateQueue POST /v1/queues.
func (h *QueuesHandler) CreateQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var req dto.CreateQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	schedule, err := scheduleFromBounds(req.OpensAt, req.ClosesAt)
	if err != nil {
		return err
	}
	queue, err := h.admin.CreateQueue(c.UserContext(), principal.Tenant.ID, service.QueueCreateInput{
		Name:                 req.Name,
		Description:          req.Description,
		MaxConcurrentUsers:   req.MaxConcurrentUsers,
		ReleaseRatePerMinute: req.ReleaseRatePerMinute,
		Schedule:             schedule,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": queueResponse(queue)})
}

// ListQueues GET /v1/queues.
func (h *QueuesHandler) ListQueues(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	queues, err := h.admin.ListQueues(c.UserContext(), principal.Tenant.ID, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.QueueResponse, 0, len(queues))
	for i := range queues {
		items = append(items, queueResponse(&queues[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetQueue GET /v1/queues/:id.
func (h *QueuesHandler) GetQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	queue, err := h.admin.GetQueue(c.UserContext(), principal.Tenant.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(queue)})
}

// UpdateQueue PATCH /v1/queues/:id.
func (h *QueuesHandler) UpdateQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var req dto.UpdateQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	schedule, err := scheduleFromBounds(req.OpensAt, req.ClosesAt)
	if err != nil {
		return err
	}
	queue, err := h.admin.UpdateQueue(c.UserContext(), principal.Tenant.ID, c.Params("id"), service.QueueUpdateInput{
		Description:          req.Description,
		MaxConcurrentUsers:   req.MaxConcurrentUsers,
		ReleaseRatePerMinute: req.ReleaseRatePerMinute,
		Schedule:             schedule,
		ClearSchedule:        req.ClearSchedule,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(queue)})
}

// Activate POST /v1/queues/:id/activate.
func (h *QueuesHandler) Activate(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

// Deactivate POST /v1/queues/:id/deactivate.
func (h *QueuesHandler) Deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *QueuesHandler) setActive(c *fiber.Ctx, active bool) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	var (
		queue *domain.Queue
		err   error
	)
	if active {
		queue, err = h.admin.Activate(c.UserContext(), principal.Tenant.ID, c.Params("id"))
	} else {
		queue, err = h.admin.Deactivate(c.UserContext(), principal.Tenant.ID, c.Params("id"))
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": queueResponse(queue)})
}

// ReleaseTick POST /v1/queues/:id/release-tick. Runs one release cycle
// outside the scheduler, useful for load tests and operational nudges.
func (h *QueuesHandler) ReleaseTick(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("tenant required")
	}
	result, err := h.releaser.RunReleaseTick(c.UserContext(), principal.Tenant.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReleaseTickResponse{
		Promoted:      result.Promoted,
		AlreadyActive: result.AlreadyActive,
		Skipped:       result.Skipped,
	}})
}

func queueResponse(q *domain.Queue) dto.QueueResponse {
	resp := dto.QueueResponse{
		ID:                   q.ID,
		Name:                 q.Name,
		Description:          q.Description,
		MaxConcurrentUsers:   q.MaxConcurrentUsers,
		ReleaseRatePerMinute: q.ReleaseRatePerMinute,
		IsActive:             q.IsActive,
		CreatedAt:            q.CreatedAt,
		UpdatedAt:            q.UpdatedAt,
	}
	if q.Schedule != nil {
		opensAt := q.Schedule.OpensAt
		closesAt := q.Schedule.ClosesAt
		resp.OpensAt = &opensAt
		resp.ClosesAt = &closesAt
	}
	return resp
}

func scheduleFromBounds(opensAt, closesAt *time.Time) (*domain.Schedule, error) {
	if opensAt == nil && closesAt == nil {
		return nil, nil
	}
	if opensAt == nil || closesAt == nil {
		return nil, apperrors.NewValidationError("opens_at and closes_at must be provided together", nil)
	}
	if !closesAt.After(*opensAt) {
		return nil, apperrors.NewValidationError("closes_at must be after opens_at", nil)
	}
	return &domain.Schedule{OpensAt: *opensAt, ClosesAt: *closesAt}, nil
}

func parseIntQuery(c *fiber.Ctx, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
