package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

// EventRepository historial append-only en memoria.
type EventRepository struct {
	mu     sync.RWMutex
	events []*entity.DocumentEvent
}

// NewEventRepository crea el repositorio vacío.
func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

var _ repository.EventRepository = (*EventRepository)(nil)

func (r *EventRepository) Append(ctx context.Context, ev *entity.DocumentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *EventRepository) ListByDocument(ctx context.Context, documentID string) ([]*entity.DocumentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.DocumentEvent
	for _, ev := range r.events {
		if ev.DocumentID == documentID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *EventRepository) CountByType(ctx context.Context, documentID, eventType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ev := range r.events {
		if ev.DocumentID == documentID && ev.Type == eventType {
			n++
		}
	}
	return n, nil
}
