package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.ContingencyRepository = (*ContingencyRepo)(nil)

// ContingencyRepo ventanas de contingencia. El índice parcial contingency_windows_open_idx
// garantiza una sola ventana OPEN por serie.
type ContingencyRepo struct {
	q Querier
}

// NewContingencyRepository construye el adaptador.
func NewContingencyRepository(q Querier) *ContingencyRepo {
	return &ContingencyRepo{q: q}
}

const windowColumns = `id, issuer_id, model, series, emission_type, reason, first_number, last_number,
	status, opened_at, closed_at, reconciled_at`

// RecordContingencyWindow inserta la ventana.
func (r *ContingencyRepo) RecordContingencyWindow(ctx context.Context, w *entity.ContingencyWindow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	const query = `INSERT INTO contingency_windows (` + windowColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.q.Exec(ctx, query,
		w.ID, w.IssuerID, w.Model, w.Series, w.EmissionType, w.Reason, w.FirstNumber, w.LastNumber,
		w.Status, w.OpenedAt, w.ClosedAt, w.ReconciledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ya hay una ventana abierta para la serie %d", domain.ErrDuplicate, w.Series)
		}
		return fmt.Errorf("insert contingency window: %w", err)
	}
	return nil
}

// UpdateWindow actualiza rango, estado y marcas de tiempo.
func (r *ContingencyRepo) UpdateWindow(ctx context.Context, w *entity.ContingencyWindow) error {
	const query = `
		UPDATE contingency_windows
		SET first_number = $2, last_number = $3, status = $4, closed_at = $5, reconciled_at = $6
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, w.ID, w.FirstNumber, w.LastNumber, w.Status, w.ClosedAt, w.ReconciledAt)
	if err != nil {
		return fmt.Errorf("update contingency window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpenWindow ventana abierta de la serie; (nil, nil) si no hay.
func (r *ContingencyRepo) GetOpenWindow(ctx context.Context, issuerID string, series int) (*entity.ContingencyWindow, error) {
	row := r.q.QueryRow(ctx, `SELECT `+windowColumns+` FROM contingency_windows
		WHERE issuer_id = $1 AND series = $2 AND status = $3`,
		issuerID, series, entity.ContingencyWindowOpen)
	w, err := scanWindow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open window: %w", err)
	}
	return w, nil
}

// ListWindows ventanas del emisor; status vacío devuelve todas. issuerID vacío lista todos los emisores.
func (r *ContingencyRepo) ListWindows(ctx context.Context, issuerID, status string) ([]*entity.ContingencyWindow, error) {
	const query = `SELECT ` + windowColumns + ` FROM contingency_windows
		WHERE ($1 = '' OR issuer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY opened_at`
	rows, err := r.q.Query(ctx, query, issuerID, status)
	if err != nil {
		return nil, fmt.Errorf("list contingency windows: %w", err)
	}
	defer rows.Close()

	var list []*entity.ContingencyWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contingency window: %w", err)
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func scanWindow(row pgx.Row) (*entity.ContingencyWindow, error) {
	var w entity.ContingencyWindow
	err := row.Scan(&w.ID, &w.IssuerID, &w.Model, &w.Series, &w.EmissionType, &w.Reason, &w.FirstNumber, &w.LastNumber,
		&w.Status, &w.OpenedAt, &w.ClosedAt, &w.ReconciledAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
