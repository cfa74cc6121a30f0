package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// InvalidationRepository persiste las solicitudes de inutilización.
type InvalidationRepository interface {
	Create(ctx context.Context, inv *entity.RangeInvalidation) error
	Update(ctx context.Context, inv *entity.RangeInvalidation) error
	ListBySeries(ctx context.Context, issuerID, model string, series int) ([]*entity.RangeInvalidation, error)
}
