package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// CheckFunc probes one backing service.
type CheckFunc func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]CheckFunc
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: make(map[string]CheckFunc)}
}

// WithCheck adds a readiness probe. A nil fn reports "not configured".
func (h *HealthHandler) WithCheck(name string, fn CheckFunc) *HealthHandler {
	h.checks[name] = fn
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for name, fn := range h.checks {
		if fn == nil {
			checks[name] = "not configured"
			continue
		}
		if err := fn(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
