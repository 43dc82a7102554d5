package credential

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Provider is the view of the Manager the HTTP handler needs.
type Provider interface {
	Health() Health
	Stats() Stats
	Refresh(ctx context.Context) error
}

type Handler struct {
	provider Provider
}

func NewHandler(p Provider) *Handler {
	return &Handler{provider: p}
}

// HandleHealth answers 503 while the credential is unhealthy so load balancers
// and probes can act on it.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	hl := h.provider.Health()
	if !hl.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(hl)
	}
	return c.JSON(hl)
}

func (h *Handler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(h.provider.Stats())
}

// HandleRefresh runs one acquisition synchronously.
func (h *Handler) HandleRefresh(c *fiber.Ctx) error {
	err := h.provider.Refresh(c.UserContext())
	switch {
	case errors.Is(err, ErrRefreshInFlight):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"health":  h.provider.Health(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "health": h.provider.Health()})
}
