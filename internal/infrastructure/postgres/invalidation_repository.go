package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.InvalidationRepository = (*InvalidationRepo)(nil)

// InvalidationRepo pedidos de inutilización de numeración.
type InvalidationRepo struct {
	q Querier
}

// NewInvalidationRepository construye el adaptador.
func NewInvalidationRepository(q Querier) *InvalidationRepo {
	return &InvalidationRepo{q: q}
}

// Create inserta el pedido.
func (r *InvalidationRepo) Create(ctx context.Context, inv *entity.RangeInvalidation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	const query = `
		INSERT INTO range_invalidations (id, issuer_id, model, series, year, first_number, last_number,
			justification, status, protocol, code, message, request_xml, response_xml, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.IssuerID, inv.Model, inv.Series, inv.Year, inv.FirstNumber, inv.LastNumber,
		inv.Justification, inv.Status, inv.Protocol, inv.Code, inv.Message, inv.RequestXML, inv.ResponseXML,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert range invalidation: %w", err)
	}
	return nil
}

// Update guarda el resultado devuelto por la SEFAZ.
func (r *InvalidationRepo) Update(ctx context.Context, inv *entity.RangeInvalidation) error {
	inv.UpdatedAt = time.Now()
	const query = `
		UPDATE range_invalidations
		SET status = $2, protocol = $3, code = $4, message = $5, request_xml = $6, response_xml = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.Status, inv.Protocol, inv.Code, inv.Message, inv.RequestXML, inv.ResponseXML, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update range invalidation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBySeries pedidos de la serie, del más reciente al más antiguo.
func (r *InvalidationRepo) ListBySeries(ctx context.Context, issuerID, model string, series int) ([]*entity.RangeInvalidation, error) {
	const query = `
		SELECT id, issuer_id, model, series, year, first_number, last_number, justification, status,
		       protocol, code, message, request_xml, response_xml, created_at, updated_at
		FROM range_invalidations
		WHERE issuer_id = $1 AND model = $2 AND series = $3
		ORDER BY created_at DESC`
	rows, err := r.q.Query(ctx, query, issuerID, model, series)
	if err != nil {
		return nil, fmt.Errorf("list range invalidations: %w", err)
	}
	defer rows.Close()

	var list []*entity.RangeInvalidation
	for rows.Next() {
		var inv entity.RangeInvalidation
		if err := rows.Scan(
			&inv.ID, &inv.IssuerID, &inv.Model, &inv.Series, &inv.Year, &inv.FirstNumber, &inv.LastNumber,
			&inv.Justification, &inv.Status, &inv.Protocol, &inv.Code, &inv.Message,
			&inv.RequestXML, &inv.ResponseXML, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan range invalidation: %w", err)
		}
		list = append(list, &inv)
	}
	return list, rows.Err()
}
