package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// ContingencyService consulta y activación manual. Lo implementa *contingency.Manager.
type ContingencyService interface {
	Status(ctx context.Context, issuerID string) (*contingency.Snapshot, error)
	Activate(ctx context.Context, issuerID, reason string) (*contingency.State, error)
	Deactivate(ctx context.Context, issuerID string) error
}

var _ ContingencyService = (*contingency.Manager)(nil)

// ContingencyHandler maneja la contingencia del emisor del token.
type ContingencyHandler struct {
	svc ContingencyService
	log *logger.Logger
}

// NewContingencyHandler construye el handler.
func NewContingencyHandler(svc ContingencyService, log *logger.Logger) *ContingencyHandler {
	return &ContingencyHandler{svc: svc, log: log}
}

// Status contador de fallos, estado y ventanas.
// GET /api/contingency
func (h *ContingencyHandler) Status(c *fiber.Ctx) error {
	snap, err := h.svc.Status(c.Context(), GetIssuerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(snap)
}

// Activate entra en contingencia por decisión del operador.
// POST /api/contingency
func (h *ContingencyHandler) Activate(c *fiber.Ctx) error {
	var in dto.ActivateContingencyRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	st, err := h.svc.Activate(c.Context(), GetIssuerID(c), in.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// Deactivate vuelve al modo normal y cierra las ventanas abiertas.
// DELETE /api/contingency
func (h *ContingencyHandler) Deactivate(c *fiber.Ctx) error {
	if err := h.svc.Deactivate(c.Context(), GetIssuerID(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
