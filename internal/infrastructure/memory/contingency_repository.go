package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// ContingencyRepository ventanas de contingencia en memoria.
type ContingencyRepository struct {
	mu      sync.RWMutex
	windows map[string]*entity.ContingencyWindow
}

// NewContingencyRepository crea el repositorio vacío.
func NewContingencyRepository() *ContingencyRepository {
	return &ContingencyRepository{windows: make(map[string]*entity.ContingencyWindow)}
}

var _ repository.ContingencyRepository = (*ContingencyRepository)(nil)

func (r *ContingencyRepository) RecordContingencyWindow(ctx context.Context, w *entity.ContingencyWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	cp := *w
	r.windows[w.ID] = &cp
	return nil
}

func (r *ContingencyRepository) UpdateWindow(ctx context.Context, w *entity.ContingencyWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[w.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *w
	r.windows[w.ID] = &cp
	return nil
}

func (r *ContingencyRepository) GetOpenWindow(ctx context.Context, issuerID string, series int) (*entity.ContingencyWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.windows {
		if w.IssuerID == issuerID && w.Series == series && w.Status == entity.ContingencyWindowOpen {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ContingencyRepository) ListWindows(ctx context.Context, issuerID, status string) ([]*entity.ContingencyWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.ContingencyWindow
	for _, w := range r.windows {
		if (issuerID == "" || w.IssuerID == issuerID) && (status == "" || w.Status == status) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}
