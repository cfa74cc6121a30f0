package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// StateUpdate campos que acompañan un cambio de estado. Los valores vacíos conservan lo persistido.
type StateUpdate struct {
	Status           string
	Protocol         string
	Receipt          string
	AuthorityCode    int
	AuthorityMessage string
	SignedXML        string
	AuthorityXML     string
	AuthorizedAt     *time.Time
	CancelledAt      *time.Time
}

// DocumentRepository define el puerto de persistencia para documentos fiscales.
// Load y GetByAccessKey devuelven (nil, nil) si no existe.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.FiscalDocument) error
	Load(ctx context.Context, id string) (*entity.FiscalDocument, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*entity.FiscalDocument, error)

	// SaveAssembly persiste número, clave, ítems, totales y XML sin firma; exige estado DRAFTING.
	SaveAssembly(ctx context.Context, doc *entity.FiscalDocument) error

	// SaveState cambia el estado solo si el estado persistido sigue siendo from (compare-and-set).
	// Devuelve domain.ErrConflict si otro proceso ya lo cambió.
	SaveState(ctx context.Context, id, from string, upd StateUpdate) error

	// ListByStatus documentos en los estados dados, más antiguos primero.
	ListByStatus(ctx context.Context, statuses []string, limit int) ([]*entity.FiscalDocument, error)

	// FindInRange documentos numerados de la serie dentro de [from, to].
	FindInRange(ctx context.Context, issuerID, model string, series int, from, to int64) ([]*entity.FiscalDocument, error)
}
