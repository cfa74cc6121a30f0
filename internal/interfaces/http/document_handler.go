package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/application/emission"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// DocumentService operaciones del ciclo de vida que expone la API. Lo implementa *emission.Service.
type DocumentService interface {
	Emit(ctx context.Context, req dto.EmitDocumentRequest) (*entity.FiscalDocument, error)
	Get(ctx context.Context, issuerID, id string) (*entity.FiscalDocument, error)
	GetByAccessKey(ctx context.Context, issuerID, accessKey string) (*entity.FiscalDocument, error)
	Events(ctx context.Context, issuerID, id string) ([]*entity.DocumentEvent, error)
	Cancel(ctx context.Context, issuerID, id, justification string) (*entity.FiscalDocument, error)
	Correction(ctx context.Context, issuerID, id, text string) (*entity.DocumentEvent, error)
	Resolve(ctx context.Context, id string) (*entity.FiscalDocument, error)
	InvalidateRange(ctx context.Context, req dto.InvalidateRangeRequest) (*entity.RangeInvalidation, error)
}

var _ DocumentService = (*emission.Service)(nil)

// DocumentHandler maneja las peticiones HTTP de documentos fiscales (protegido).
type DocumentHandler struct {
	svc DocumentService
	log *logger.Logger
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(svc DocumentService, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, log: log}
}

// Emit arma, firma y transmite un documento. El resultado de la SEFAZ viaja en el estado.
// POST /api/documents
func (h *DocumentHandler) Emit(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.EmitDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	in.IssuerID = issuerID
	doc, err := h.svc.Emit(c.Context(), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(emission.ToDocumentResponse(doc))
}

// GetByID estado actual del documento.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	doc, err := h.svc.Get(c.Context(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(emission.ToDocumentResponse(doc))
}

// GetByAccessKey busca por clave de acceso.
// GET /api/documents/key/:key
func (h *DocumentHandler) GetByAccessKey(c *fiber.Ctx) error {
	doc, err := h.svc.GetByAccessKey(c.Context(), GetIssuerID(c), c.Params("key"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(emission.ToDocumentResponse(doc))
}

// Events historial de estados, intentos y eventos del documento.
// GET /api/documents/:id/events
func (h *DocumentHandler) Events(c *fiber.Ctx) error {
	events, err := h.svc.Events(c.Context(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(emission.ToEventResponses(events))
}

// Cancel registra el evento de cancelación.
// POST /api/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	doc, err := h.svc.Cancel(c.Context(), GetIssuerID(c), c.Params("id"), in.Justification)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(emission.ToDocumentResponse(doc))
}

// Correction registra una carta de corrección.
// POST /api/documents/:id/correction
func (h *DocumentHandler) Correction(c *fiber.Ctx) error {
	var in dto.CorrectionRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	ev, err := h.svc.Correction(c.Context(), GetIssuerID(c), c.Params("id"), in.Text)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(emission.ToEventResponse(ev))
}

// Resolve consulta la situación en la SEFAZ de un documento sin respuesta definitiva.
// POST /api/documents/:id/resolve
func (h *DocumentHandler) Resolve(c *fiber.Ctx) error {
	doc, err := h.svc.Get(c.Context(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	doc, err = h.svc.Resolve(c.Context(), doc.ID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(emission.ToDocumentResponse(doc))
}

// InvalidateRange inutiliza una faja de numeración.
// POST /api/invalidations
func (h *DocumentHandler) InvalidateRange(c *fiber.Ctx) error {
	var in dto.InvalidateRangeRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	in.IssuerID = GetIssuerID(c)
	inv, err := h.svc.InvalidateRange(c.Context(), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(emission.ToInvalidationResponse(inv))
}
