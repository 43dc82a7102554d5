package records

import (
	"context"

	"harvester/internal/utils/parser"

	"github.com/gofiber/fiber/v2"
)

type Lister interface {
	Recent(ctx context.Context, term string, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	store Lister
}

func NewHandler(store Lister) *Handler {
	return &Handler{store: store}
}

type listQuery struct {
	Term  string `form:"term"`
	Limit int    `form:"limit" default:"50"`
}

type listResponse struct {
	Success bool     `json:"success"`
	Total   int64    `json:"total"`
	Records []Record `json:"records"`
}

func respondError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}

// HandleList serves the most recently scraped records, optionally for one term.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	var q listQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return respondError(c, fiber.StatusBadRequest, err)
	}
	ctx := c.UserContext()
	recs, err := h.store.Recent(ctx, q.Term, q.Limit)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	total, err := h.store.Count(ctx)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return c.JSON(listResponse{Success: true, Total: total, Records: recs})
}
