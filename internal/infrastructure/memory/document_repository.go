// Package memory implementa los puertos de persistencia en memoria (tests y modo desarrollo sin DB).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// DocumentRepository guarda documentos y contadores de serie protegidos por un mutex.
type DocumentRepository struct {
	mu       sync.RWMutex
	docs     map[string]*entity.FiscalDocument
	byKey    map[string]string
	counters map[string]int64
}

// NewDocumentRepository crea el repositorio vacío.
func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		docs:     make(map[string]*entity.FiscalDocument),
		byKey:    make(map[string]string),
		counters: make(map[string]int64),
	}
}

var (
	_ repository.DocumentRepository = (*DocumentRepository)(nil)
	_ repository.SequenceRepository = (*DocumentRepository)(nil)
)

func (r *DocumentRepository) Create(ctx context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return domain.ErrDuplicate
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.Version = 1
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *DocumentRepository) Load(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	return cloneDocument(d), nil
}

func (r *DocumentRepository) GetByAccessKey(ctx context.Context, accessKey string) (*entity.FiscalDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[accessKey]
	if !ok {
		return nil, nil
	}
	return cloneDocument(r.docs[id]), nil
}

func (r *DocumentRepository) SaveAssembly(ctx context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.docs[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != entity.DocumentStatusDrafting {
		return fmt.Errorf("%w: documento en %s", domain.ErrConflict, cur.Status)
	}
	for _, other := range r.docs {
		if other.ID != doc.ID && other.IssuerID == doc.IssuerID && other.Series == doc.Series &&
			other.Number == doc.Number && other.Number > 0 {
			return fmt.Errorf("%w: número %d ya usado en la serie %d", domain.ErrDuplicate, doc.Number, doc.Series)
		}
	}
	next := cloneDocument(doc)
	next.Status = entity.DocumentStatusAssembled
	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now()
	r.docs[doc.ID] = next
	r.byKey[doc.AccessKey] = doc.ID
	doc.Status, doc.Version = next.Status, next.Version
	return nil
}

func (r *DocumentRepository) SaveState(ctx context.Context, id, from string, upd repository.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: se esperaba %s y el documento está en %s", domain.ErrConflict, from, cur.Status)
	}
	next := cloneDocument(cur)
	applyUpdate(next, upd)
	next.Version++
	next.UpdatedAt = time.Now()
	r.docs[id] = next
	return nil
}

func (r *DocumentRepository) ListByStatus(ctx context.Context, statuses []string, limit int) ([]*entity.FiscalDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*entity.FiscalDocument
	for _, d := range r.docs {
		if want[d.Status] {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DocumentRepository) FindInRange(ctx context.Context, issuerID, model string, series int, from, to int64) ([]*entity.FiscalDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.FiscalDocument
	for _, d := range r.docs {
		if d.IssuerID == issuerID && d.Model == model && d.Series == series && d.Number >= from && d.Number <= to {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// NextSequence incrementa el contador de la serie.
func (r *DocumentRepository) NextSequence(ctx context.Context, issuerID string, series int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fmt.Sprintf("%s/%d", issuerID, series)
	r.counters[k]++
	return r.counters[k], nil
}

// SetSequence fija el último número entregado (migraciones de numeración, tests).
func (r *DocumentRepository) SetSequence(issuerID string, series int, last int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[fmt.Sprintf("%s/%d", issuerID, series)] = last
}

func applyUpdate(d *entity.FiscalDocument, upd repository.StateUpdate) {
	d.Status = upd.Status
	if upd.Protocol != "" {
		d.Protocol = upd.Protocol
	}
	if upd.Receipt != "" {
		d.Receipt = upd.Receipt
	}
	if upd.AuthorityCode != 0 {
		d.AuthorityCode = upd.AuthorityCode
		d.AuthorityMessage = upd.AuthorityMessage
	}
	if upd.SignedXML != "" {
		d.SignedXML = upd.SignedXML
	}
	if upd.AuthorityXML != "" {
		d.AuthorityXML = upd.AuthorityXML
	}
	if upd.AuthorizedAt != nil {
		t := *upd.AuthorizedAt
		d.AuthorizedAt = &t
	}
	if upd.CancelledAt != nil {
		t := *upd.CancelledAt
		d.CancelledAt = &t
	}
}

func cloneDocument(d *entity.FiscalDocument) *entity.FiscalDocument {
	c := *d
	if d.Buyer != nil {
		b := *d.Buyer
		c.Buyer = &b
	}
	c.ReferencedKeys = append([]string(nil), d.ReferencedKeys...)
	c.Items = make([]*entity.DocumentItem, len(d.Items))
	for i, it := range d.Items {
		cp := *it
		c.Items[i] = &cp
	}
	c.Payments = make([]*entity.Payment, len(d.Payments))
	for i, p := range d.Payments {
		cp := *p
		c.Payments[i] = &cp
	}
	if d.AuthorizedAt != nil {
		t := *d.AuthorizedAt
		c.AuthorizedAt = &t
	}
	if d.CancelledAt != nil {
		t := *d.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
