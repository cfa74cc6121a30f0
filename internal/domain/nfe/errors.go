package nfe

import (
	"errors"
	"fmt"
	"strings"
)

// Taxonomía de errores del ciclo de vida NF-e. Los llamadores comparan con errors.Is.
var (
	ErrValidationFailure      = errors.New("documento fiscal inválido")
	ErrInvalidCredential      = errors.New("certificado inválido o no apto para firma")
	ErrWrongPassphrase        = errors.New("contraseña del certificado incorrecta")
	ErrExpired                = errors.New("certificado fuera de vigencia")
	ErrNoCredential           = errors.New("el emisor no tiene certificado cargado")
	ErrSigningFailure         = errors.New("falló la firma del documento")
	ErrDefinitiveRejection    = errors.New("rechazo definitivo de la SEFAZ")
	ErrDenied                 = fmt.Errorf("%w: uso denegado", ErrDefinitiveRejection)
	ErrTransientAuthority     = errors.New("falla momentánea de la SEFAZ")
	ErrUnreachable            = errors.New("SEFAZ inalcanzable")
	ErrReconciliationConflict = errors.New("respuesta de la SEFAZ en conflicto con el estado local")
	ErrIllegalTransition      = errors.New("transición de estado no permitida")
	ErrUnknownRegion          = errors.New("UF sin autorizador configurado")
	ErrCancelWindowExpired    = errors.New("plazo de cancelación vencido")
	ErrAlreadyFinal           = errors.New("el documento ya está en estado final")
)

// ValidationError detalla los campos inválidos; errors.Is(err, ErrValidationFailure) es true.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrValidationFailure.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap permite errors.Is(err, ErrValidationFailure).
func (e *ValidationError) Unwrap() error { return ErrValidationFailure }

// RejectionError rechazo o denegación con el cStat/xMotivo devueltos por la SEFAZ.
type RejectionError struct {
	Code    int
	Message string
	Denied  bool
}

func (e *RejectionError) Error() string {
	kind := "rechazo"
	if e.Denied {
		kind = "denegación"
	}
	return fmt.Sprintf("SEFAZ %s %d: %s", kind, e.Code, e.Message)
}

// Unwrap expone ErrDenied o ErrDefinitiveRejection.
func (e *RejectionError) Unwrap() error {
	if e.Denied {
		return ErrDenied
	}
	return ErrDefinitiveRejection
}
