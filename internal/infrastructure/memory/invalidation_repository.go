package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// InvalidationRepository inutilizaciones en memoria.
type InvalidationRepository struct {
	mu    sync.RWMutex
	items map[string]*entity.RangeInvalidation
}

// NewInvalidationRepository crea el repositorio vacío.
func NewInvalidationRepository() *InvalidationRepository {
	return &InvalidationRepository{items: make(map[string]*entity.RangeInvalidation)}
}

var _ repository.InvalidationRepository = (*InvalidationRepository)(nil)

func (r *InvalidationRepository) Create(ctx context.Context, inv *entity.RangeInvalidation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	cp := *inv
	r.items[inv.ID] = &cp
	return nil
}

func (r *InvalidationRepository) Update(ctx context.Context, inv *entity.RangeInvalidation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inv.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *inv
	r.items[inv.ID] = &cp
	return nil
}

func (r *InvalidationRepository) ListBySeries(ctx context.Context, issuerID, model string, series int) ([]*entity.RangeInvalidation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.RangeInvalidation
	for _, inv := range r.items {
		if inv.IssuerID == issuerID && inv.Model == model && inv.Series == series {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}
