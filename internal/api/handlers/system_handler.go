package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is satisfied by *sql.DB and the redis client wrapper in main.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type SystemHandler struct {
	deps map[string]Pinger
}

func NewSystemHandler(deps map[string]Pinger) *SystemHandler {
	return &SystemHandler{deps: deps}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := fiber.Map{}
	for name, dep := range h.deps {
		if err := dep.PingContext(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": checks})
}
