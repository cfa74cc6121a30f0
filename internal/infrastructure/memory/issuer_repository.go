package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// IssuerRepository emisores en memoria.
type IssuerRepository struct {
	mu      sync.RWMutex
	issuers map[string]*entity.Issuer
}

// NewIssuerRepository crea el repositorio con los emisores dados.
func NewIssuerRepository(issuers ...*entity.Issuer) *IssuerRepository {
	r := &IssuerRepository{issuers: make(map[string]*entity.Issuer)}
	for _, i := range issuers {
		r.Put(i)
	}
	return r
}

var _ repository.IssuerRepository = (*IssuerRepository)(nil)

// Put agrega o reemplaza un emisor.
func (r *IssuerRepository) Put(i *entity.Issuer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *i
	r.issuers[i.ID] = &cp
}

func (r *IssuerRepository) Upsert(ctx context.Context, i *entity.Issuer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *i
	now := time.Now()
	if prev, ok := r.issuers[i.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.issuers[i.ID] = &cp
	return nil
}

func (r *IssuerRepository) GetByID(ctx context.Context, id string) (*entity.Issuer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.issuers[id]
	if !ok {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (r *IssuerRepository) List(ctx context.Context) ([]*entity.Issuer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Issuer, 0, len(r.issuers))
	for _, i := range r.issuers {
		cp := *i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}
