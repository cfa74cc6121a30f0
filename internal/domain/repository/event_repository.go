package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// EventRepository historial append-only de cada documento.
type EventRepository interface {
	Append(ctx context.Context, ev *entity.DocumentEvent) error
	ListByDocument(ctx context.Context, documentID string) ([]*entity.DocumentEvent, error)
	// CountByType cuántos eventos de un tipo tiene el documento (base del nSeqEvento).
	CountByType(ctx context.Context, documentID, eventType string) (int, error)
}
