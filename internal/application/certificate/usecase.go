// Package certificate expone la carga, consulta y baja del certificado A1 de cada emisor.
package certificate

import (
	"context"
	"fmt"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// MaxContainerSize tamaño máximo aceptado de un .pfx.
const MaxContainerSize = 64 << 10

// ConnectionCache clientes TLS atados al certificado anterior.
type ConnectionCache interface {
	Forget(issuerID string)
}

// UseCase carga certificados en el gestor validando que el emisor exista.
type UseCase struct {
	manager *nfecert.Manager
	issuers repository.IssuerRepository
	conns   ConnectionCache
	log     *logger.Logger
}

// NewUseCase construye el caso de uso. conns puede ser nil.
func NewUseCase(manager *nfecert.Manager, issuers repository.IssuerRepository, conns ConnectionCache, log *logger.Logger) *UseCase {
	return &UseCase{manager: manager, issuers: issuers, conns: conns, log: log.Component("certificate_usecase")}
}

// Upload instala el .pfx como nueva versión del certificado del emisor y devuelve su vigencia.
func (uc *UseCase) Upload(ctx context.Context, issuerID string, raw []byte, passphrase string) (*nfecert.Status, error) {
	if len(raw) == 0 || len(raw) > MaxContainerSize {
		return nil, fmt.Errorf("%w: archivo de certificado vacío o mayor a %d KB", domain.ErrInvalidInput, MaxContainerSize>>10)
	}
	issuer, err := uc.issuers.GetByID(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, issuerID)
	}

	cred, err := uc.manager.Load(ctx, issuerID, raw, passphrase)
	if err != nil {
		return nil, err
	}
	if !sameRoot(cred.OwnerTaxID, issuer.CNPJ) {
		uc.log.Warn().Str("issuer_id", issuerID).Str("owner_tax_id", cred.OwnerTaxID).
			Msg("el titular del certificado no pertenece a la raíz del CNPJ del emisor")
	}
	if uc.conns != nil {
		uc.conns.Forget(issuerID)
	}
	return uc.manager.Status(issuerID)
}

// Status vigencia del certificado activo.
func (uc *UseCase) Status(ctx context.Context, issuerID string) (*nfecert.Status, error) {
	return uc.manager.Status(issuerID)
}

// Remove retira el certificado del emisor y cierra sus conexiones.
func (uc *UseCase) Remove(ctx context.Context, issuerID string) error {
	if err := uc.manager.Remove(ctx, issuerID); err != nil {
		return err
	}
	if uc.conns != nil {
		uc.conns.Forget(issuerID)
	}
	return nil
}

// sameRoot compara los 8 dígitos de raíz de dos CNPJ; un titular CPF se acepta.
func sameRoot(owner, cnpj string) bool {
	owner, cnpj = pkgnfe.ExtractDigits(owner), pkgnfe.ExtractDigits(cnpj)
	if len(owner) != 14 || len(cnpj) != 14 {
		return true
	}
	return owner[:8] == cnpj[:8]
}
