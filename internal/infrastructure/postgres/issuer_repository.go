package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.IssuerRepository = (*IssuerRepo)(nil)

// IssuerRepo lectura de emisores.
type IssuerRepo struct {
	q Querier
}

// NewIssuerRepository construye el adaptador.
func NewIssuerRepository(q Querier) *IssuerRepo {
	return &IssuerRepo{q: q}
}

const issuerColumns = `id, cnpj, state_registration, legal_name, trade_name, tax_regime, region,
	city_code, city_name, street, number, district, postal_code, phone, csc_id, csc, created_at, updated_at`

// Upsert alta o actualización del emisor. created_at se conserva en la actualización.
func (r *IssuerRepo) Upsert(ctx context.Context, i *entity.Issuer) error {
	const query = `
		INSERT INTO issuers (` + issuerColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			cnpj = EXCLUDED.cnpj, state_registration = EXCLUDED.state_registration,
			legal_name = EXCLUDED.legal_name, trade_name = EXCLUDED.trade_name,
			tax_regime = EXCLUDED.tax_regime, region = EXCLUDED.region,
			city_code = EXCLUDED.city_code, city_name = EXCLUDED.city_name,
			street = EXCLUDED.street, number = EXCLUDED.number, district = EXCLUDED.district,
			postal_code = EXCLUDED.postal_code, phone = EXCLUDED.phone,
			csc_id = EXCLUDED.csc_id, csc = EXCLUDED.csc, updated_at = now()`
	_, err := r.q.Exec(ctx, query,
		i.ID, i.CNPJ, i.StateRegistration, i.LegalName, i.TradeName, i.TaxRegime, i.Region,
		i.CityCode, i.CityName, i.Street, i.Number, i.District, i.PostalCode, i.Phone, i.CSCID, i.CSC,
	)
	if err != nil {
		return fmt.Errorf("upsert issuer: %w", err)
	}
	return nil
}

// GetByID emisor por ID; (nil, nil) si no existe.
func (r *IssuerRepo) GetByID(ctx context.Context, id string) (*entity.Issuer, error) {
	i, err := scanIssuer(r.q.QueryRow(ctx, `SELECT `+issuerColumns+` FROM issuers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issuer: %w", err)
	}
	return i, nil
}

// List todos los emisores.
func (r *IssuerRepo) List(ctx context.Context) ([]*entity.Issuer, error) {
	rows, err := r.q.Query(ctx, `SELECT `+issuerColumns+` FROM issuers ORDER BY legal_name`)
	if err != nil {
		return nil, fmt.Errorf("list issuers: %w", err)
	}
	defer rows.Close()
	var list []*entity.Issuer
	for rows.Next() {
		i, err := scanIssuer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuer: %w", err)
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

func scanIssuer(row pgx.Row) (*entity.Issuer, error) {
	var i entity.Issuer
	err := row.Scan(&i.ID, &i.CNPJ, &i.StateRegistration, &i.LegalName, &i.TradeName, &i.TaxRegime, &i.Region,
		&i.CityCode, &i.CityName, &i.Street, &i.Number, &i.District, &i.PostalCode, &i.Phone,
		&i.CSCID, &i.CSC, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
