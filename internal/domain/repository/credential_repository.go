package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// CredentialRepository guarda el certificado sellado; nunca material descifrado.
type CredentialRepository interface {
	Save(ctx context.Context, c *entity.SealedCredential) error
	Get(ctx context.Context, issuerID string) (*entity.SealedCredential, error)
	List(ctx context.Context) ([]*entity.SealedCredential, error)
	Delete(ctx context.Context, issuerID string) error
}
