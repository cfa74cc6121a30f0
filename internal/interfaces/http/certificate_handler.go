package http

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/certificate"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// CertificateService carga y baja del certificado A1. Lo implementa *certificate.UseCase.
type CertificateService interface {
	Upload(ctx context.Context, issuerID string, raw []byte, passphrase string) (*nfecert.Status, error)
	Status(ctx context.Context, issuerID string) (*nfecert.Status, error)
	Remove(ctx context.Context, issuerID string) error
}

var _ CertificateService = (*certificate.UseCase)(nil)

// CertificateHandler maneja el certificado del emisor del token.
type CertificateHandler struct {
	svc CertificateService
	log *logger.Logger
}

// NewCertificateHandler construye el handler.
func NewCertificateHandler(svc CertificateService, log *logger.Logger) *CertificateHandler {
	return &CertificateHandler{svc: svc, log: log}
}

// Upload recibe el .pfx (multipart "file") y su contraseña ("passphrase").
// POST /api/certificates
func (h *CertificateHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "archivo 'file' requerido"})
	}
	f, err := fh.Open()
	if err != nil {
		return badBody(c)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, certificate.MaxContainerSize+1))
	if err != nil {
		return badBody(c)
	}
	st, err := h.svc.Upload(c.Context(), GetIssuerID(c), raw, c.FormValue("passphrase"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// Status vigencia del certificado activo.
// GET /api/certificates/status
func (h *CertificateHandler) Status(c *fiber.Ctx) error {
	st, err := h.svc.Status(c.Context(), GetIssuerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(st)
}

// Remove retira el certificado.
// DELETE /api/certificates
func (h *CertificateHandler) Remove(c *fiber.Ctx) error {
	if err := h.svc.Remove(c.Context(), GetIssuerID(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
