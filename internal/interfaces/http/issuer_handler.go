package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/application/issuer"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// IssuerService cadastro del emisor. Lo implementa *issuer.UseCase.
type IssuerService interface {
	Get(ctx context.Context, id string) (*dto.IssuerResponse, error)
	Save(ctx context.Context, id string, in dto.IssuerRequest) (*dto.IssuerResponse, error)
}

var _ IssuerService = (*issuer.UseCase)(nil)

// IssuerHandler maneja el cadastro del emisor del token.
type IssuerHandler struct {
	svc IssuerService
	log *logger.Logger
}

// NewIssuerHandler construye el handler.
func NewIssuerHandler(svc IssuerService, log *logger.Logger) *IssuerHandler {
	return &IssuerHandler{svc: svc, log: log}
}

// Get GET /api/issuer
func (h *IssuerHandler) Get(c *fiber.Ctx) error {
	out, err := h.svc.Get(c.Context(), GetIssuerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(out)
}

// Save alta o actualización.
// PUT /api/issuer
func (h *IssuerHandler) Save(c *fiber.Ctx) error {
	var in dto.IssuerRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.svc.Save(c.Context(), GetIssuerID(c), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(out)
}
