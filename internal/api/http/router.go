package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/virtual-queue/internal/api/http/handlers"
	"github.com/spec-kit/virtual-queue/internal/auth"
	"github.com/spec-kit/virtual-queue/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tenants        *handlers.TenantsHandler
	Queues         *handlers.QueuesHandler
	Sessions       *handlers.SessionsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/tenants/register", cfg.Tenants.Register)
	authGroup.Post("/token", cfg.Tenants.Token)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	queues := v1.Group("/queues")
	queues.Post("", cfg.Queues.CreateQueue)
	queues.Get("", cfg.Queues.ListQueues)
	queues.Get("/:id", cfg.Queues.GetQueue)
	queues.Patch("/:id", cfg.Queues.UpdateQueue)
	queues.Post("/:id/activate", cfg.Queues.Activate)
	queues.Post("/:id/deactivate", cfg.Queues.Deactivate)
	queues.Post("/:id/release-tick", cfg.Queues.ReleaseTick)

	queues.Post("/:id/sessions", cfg.Sessions.Enqueue)
	queues.Get("/:id/sessions/position", cfg.Sessions.Position)
	queues.Post("/:id/sessions/leave", cfg.Sessions.Leave)
	queues.Post("/:id/sessions/:sessionId/leave", cfg.Sessions.LeaveByID)
	queues.Post("/:id/sessions/:sessionId/serve", cfg.Sessions.Serve)
	queues.Post("/:id/sessions/:sessionId/drop", cfg.Sessions.Drop)
}
