package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// errorMapping status y código HTTP de cada error conocido, en orden de precedencia.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{nfe.ErrValidationFailure, fiber.StatusUnprocessableEntity, "VALIDATION"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrDuplicate, fiber.StatusConflict, "DUPLICATE"},
	{domain.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
	{nfe.ErrReconciliationConflict, fiber.StatusConflict, "RECONCILIATION_CONFLICT"},
	{domain.ErrConflict, fiber.StatusConflict, "CONFLICT"},
	{nfe.ErrIllegalTransition, fiber.StatusConflict, "ILLEGAL_TRANSITION"},
	{nfe.ErrAlreadyFinal, fiber.StatusConflict, "ALREADY_FINAL"},
	{nfe.ErrCancelWindowExpired, fiber.StatusUnprocessableEntity, "CANCEL_WINDOW_EXPIRED"},
	{nfe.ErrWrongPassphrase, fiber.StatusBadRequest, "WRONG_PASSPHRASE"},
	{nfe.ErrInvalidCredential, fiber.StatusBadRequest, "INVALID_CREDENTIAL"},
	{nfe.ErrExpired, fiber.StatusUnprocessableEntity, "CREDENTIAL_EXPIRED"},
	{nfe.ErrNoCredential, fiber.StatusPreconditionFailed, "NO_CREDENTIAL"},
	{nfe.ErrUnknownRegion, fiber.StatusUnprocessableEntity, "UNKNOWN_REGION"},
	{nfe.ErrDenied, fiber.StatusUnprocessableEntity, "DENIED"},
	{nfe.ErrDefinitiveRejection, fiber.StatusUnprocessableEntity, "REJECTED"},
	{nfe.ErrUnreachable, fiber.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE"},
	{nfe.ErrTransientAuthority, fiber.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE"},
	{context.DeadlineExceeded, fiber.StatusGatewayTimeout, "TIMEOUT"},
}

// writeError traduce err a dto.ErrorResponse. Los errores no catalogados se registran y se
// responden sin detalle.
func writeError(c *fiber.Ctx, log *logger.Logger, err error) error {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return c.Status(m.status).JSON(dto.ErrorResponse{Code: m.code, Message: message(err)})
		}
	}
	log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("error interno")
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
}

func message(err error) string {
	var rej *nfe.RejectionError
	if errors.As(err, &rej) {
		return fmt.Sprintf("%d: %s", rej.Code, rej.Message)
	}
	return err.Error()
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
}
