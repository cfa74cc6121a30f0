package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// CredentialRepository certificados sellados en memoria.
type CredentialRepository struct {
	mu    sync.RWMutex
	items map[string]*entity.SealedCredential
}

// NewCredentialRepository crea el repositorio vacío.
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{items: make(map[string]*entity.SealedCredential)}
}

var _ repository.CredentialRepository = (*CredentialRepository)(nil)

func (r *CredentialRepository) Save(ctx context.Context, c *entity.SealedCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Container = append([]byte(nil), c.Container...)
	cp.SealedPassphrase = append([]byte(nil), c.SealedPassphrase...)
	r.items[c.IssuerID] = &cp
	return nil
}

func (r *CredentialRepository) Get(ctx context.Context, issuerID string) (*entity.SealedCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[issuerID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CredentialRepository) List(ctx context.Context) ([]*entity.SealedCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.SealedCredential, 0, len(r.items))
	for _, c := range r.items {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, issuerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, issuerID)
	return nil
}
