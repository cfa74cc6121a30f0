package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// ContingencyRepository persiste las ventanas de contingencia.
type ContingencyRepository interface {
	RecordContingencyWindow(ctx context.Context, w *entity.ContingencyWindow) error
	UpdateWindow(ctx context.Context, w *entity.ContingencyWindow) error
	// GetOpenWindow ventana abierta para la serie, o (nil, nil).
	GetOpenWindow(ctx context.Context, issuerID string, series int) (*entity.ContingencyWindow, error)
	ListWindows(ctx context.Context, issuerID, status string) ([]*entity.ContingencyWindow, error)
}
