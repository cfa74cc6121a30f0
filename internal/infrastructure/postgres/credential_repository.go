package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo contenedores PKCS#12 con la contraseña sellada.
type CredentialRepo struct {
	q Querier
}

// NewCredentialRepository construye el adaptador.
func NewCredentialRepository(q Querier) *CredentialRepo {
	return &CredentialRepo{q: q}
}

// Save reemplaza la credencial del emisor (rotación).
func (r *CredentialRepo) Save(ctx context.Context, c *entity.SealedCredential) error {
	const query = `
		INSERT INTO signing_credentials (issuer_id, container, sealed_passphrase, fingerprint, not_after, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (issuer_id) DO UPDATE SET
			container = EXCLUDED.container, sealed_passphrase = EXCLUDED.sealed_passphrase,
			fingerprint = EXCLUDED.fingerprint, not_after = EXCLUDED.not_after, created_at = now()
		RETURNING created_at`
	err := r.q.QueryRow(ctx, query, c.IssuerID, c.Container, c.SealedPassphrase, c.Fingerprint, c.NotAfter).
		Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Get credencial sellada; (nil, nil) si el emisor no tiene.
func (r *CredentialRepo) Get(ctx context.Context, issuerID string) (*entity.SealedCredential, error) {
	var c entity.SealedCredential
	err := r.q.QueryRow(ctx, `
		SELECT issuer_id, container, sealed_passphrase, fingerprint, not_after, created_at
		FROM signing_credentials WHERE issuer_id = $1`, issuerID).
		Scan(&c.IssuerID, &c.Container, &c.SealedPassphrase, &c.Fingerprint, &c.NotAfter, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// List todas las credenciales; se usa para recargar el gestor al arrancar.
func (r *CredentialRepo) List(ctx context.Context) ([]*entity.SealedCredential, error) {
	rows, err := r.q.Query(ctx, `
		SELECT issuer_id, container, sealed_passphrase, fingerprint, not_after, created_at
		FROM signing_credentials ORDER BY issuer_id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	var list []*entity.SealedCredential
	for rows.Next() {
		var c entity.SealedCredential
		if err := rows.Scan(&c.IssuerID, &c.Container, &c.SealedPassphrase, &c.Fingerprint, &c.NotAfter, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

// Delete elimina la credencial; no falla si no existe.
func (r *CredentialRepo) Delete(ctx context.Context, issuerID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM signing_credentials WHERE issuer_id = $1`, issuerID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
