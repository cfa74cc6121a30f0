package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.EventRepository = (*EventRepo)(nil)

// EventRepo historial append-only de los documentos.
type EventRepo struct {
	q Querier
}

// NewEventRepository construye el adaptador.
func NewEventRepository(q Querier) *EventRepo {
	return &EventRepo{q: q}
}

// Append inserta el evento. Nunca se actualiza ni se borra.
func (r *EventRepo) Append(ctx context.Context, ev *entity.DocumentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	const query = `
		INSERT INTO document_events (id, document_id, access_key, type, sequence, from_status, to_status,
			code, message, protocol, request, response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.q.Exec(ctx, query,
		ev.ID, ev.DocumentID, ev.AccessKey, ev.Type, ev.Sequence, ev.FromStatus, ev.ToStatus,
		ev.Code, ev.Message, ev.Protocol, ev.Request, ev.Response, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByDocument eventos del documento en orden cronológico.
func (r *EventRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.DocumentEvent, error) {
	const query = `
		SELECT id, document_id, access_key, type, sequence, from_status, to_status,
		       code, message, protocol, request, response, created_at
		FROM document_events
		WHERE document_id = $1
		ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var list []*entity.DocumentEvent
	for rows.Next() {
		var ev entity.DocumentEvent
		if err := rows.Scan(
			&ev.ID, &ev.DocumentID, &ev.AccessKey, &ev.Type, &ev.Sequence, &ev.FromStatus, &ev.ToStatus,
			&ev.Code, &ev.Message, &ev.Protocol, &ev.Request, &ev.Response, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		list = append(list, &ev)
	}
	return list, rows.Err()
}

// CountByType cuántos eventos del tipo tiene el documento.
func (r *EventRepo) CountByType(ctx context.Context, documentID, eventType string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_events WHERE document_id = $1 AND type = $2`,
		documentID, eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
