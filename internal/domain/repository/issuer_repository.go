package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// IssuerRepository cadastro de emisores. GetByID devuelve (nil, nil) si no existe.
type IssuerRepository interface {
	Upsert(ctx context.Context, i *entity.Issuer) error
	GetByID(ctx context.Context, id string) (*entity.Issuer, error)
	List(ctx context.Context) ([]*entity.Issuer, error)
}
