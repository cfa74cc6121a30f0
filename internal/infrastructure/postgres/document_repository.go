package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var (
	_ repository.DocumentRepository = (*DocumentRepo)(nil)
	_ repository.SequenceRepository = (*DocumentRepo)(nil)
)

// DocumentRepo documentos fiscales y numeración por serie. Comprador, ítems, pagos y totales
// se guardan como JSONB: son una copia congelada al momento del ensamblado.
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

const documentColumns = `
	id, issuer_id, model, series, COALESCE(number, 0), COALESCE(numeric_code, ''), COALESCE(access_key, ''),
	issued_at, emission_type, environment, nature_of_operation, operation_type, finality,
	presence_indicator, final_consumer, referenced_keys, additional_info, contingency_reason,
	contingency_since, buyer, items, payments, totals, status, protocol, receipt,
	authority_code, authority_message, unsigned_xml, signed_xml, authority_xml,
	authorized_at, cancelled_at, version, created_at, updated_at`

// Create inserta el documento en DRAFTING.
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.FiscalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt, doc.Version = now, now, 1
	if doc.ReferencedKeys == nil {
		doc.ReferencedKeys = []string{}
	}

	const query = `
		INSERT INTO fiscal_documents (
			id, issuer_id, model, series, issued_at, emission_type, environment,
			nature_of_operation, operation_type, finality, presence_indicator, final_consumer,
			referenced_keys, additional_info, contingency_reason, contingency_since,
			buyer, items, payments, totals, grand_total, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`
	_, err := r.q.Exec(ctx, query,
		doc.ID, doc.IssuerID, doc.Model, doc.Series, doc.IssuedAt, doc.EmissionType, doc.Environment,
		doc.NatureOfOperation, doc.OperationType, doc.Finality, doc.PresenceIndicator, doc.FinalConsumer,
		doc.ReferencedKeys, doc.AdditionalInfo, doc.ContingencyReason, nullTime(doc.ContingencySince),
		doc.Buyer, itemsOrEmpty(doc.Items), paymentsOrEmpty(doc.Payments), doc.Totals, doc.Totals.GrandTotal,
		doc.Status, doc.Version, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: documento %s", domain.ErrDuplicate, doc.ID)
		}
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	return nil
}

// Load obtiene el documento por ID; (nil, nil) si no existe.
func (r *DocumentRepo) Load(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	return r.one(ctx, `SELECT `+documentColumns+` FROM fiscal_documents WHERE id = $1`, id)
}

// GetByAccessKey obtiene el documento por clave de acceso; (nil, nil) si no existe.
func (r *DocumentRepo) GetByAccessKey(ctx context.Context, accessKey string) (*entity.FiscalDocument, error) {
	return r.one(ctx, `SELECT `+documentColumns+` FROM fiscal_documents WHERE access_key = $1`, accessKey)
}

// SaveAssembly persiste numeración, clave, XML y contenido; solo desde DRAFTING.
func (r *DocumentRepo) SaveAssembly(ctx context.Context, doc *entity.FiscalDocument) error {
	const query = `
		UPDATE fiscal_documents
		SET number = $2, numeric_code = $3, access_key = $4, issued_at = $5, emission_type = $6,
		    contingency_reason = $7, contingency_since = $8, buyer = $9, items = $10, payments = $11,
		    totals = $12, grand_total = $13, unsigned_xml = $14,
		    status = $15, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = $16
		RETURNING version`
	err := r.q.QueryRow(ctx, query,
		doc.ID, doc.Number, doc.NumericCode, doc.AccessKey, doc.IssuedAt, doc.EmissionType,
		doc.ContingencyReason, nullTime(doc.ContingencySince), doc.Buyer, itemsOrEmpty(doc.Items),
		paymentsOrEmpty(doc.Payments), doc.Totals, doc.Totals.GrandTotal, nullIfEmpty(doc.UnsignedXML),
		entity.DocumentStatusAssembled, entity.DocumentStatusDrafting,
	).Scan(&doc.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrConflict(ctx, doc.ID, entity.DocumentStatusDrafting)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número %d ya usado en la serie %d", domain.ErrDuplicate, doc.Number, doc.Series)
		}
		return fmt.Errorf("save assembly: %w", err)
	}
	doc.Status = entity.DocumentStatusAssembled
	return nil
}

// SaveState compare-and-set sobre el estado. Los campos vacíos de upd conservan lo persistido.
func (r *DocumentRepo) SaveState(ctx context.Context, id, from string, upd repository.StateUpdate) error {
	var code *int
	var message *string
	if upd.AuthorityCode != 0 {
		code, message = &upd.AuthorityCode, &upd.AuthorityMessage
	}
	const query = `
		UPDATE fiscal_documents
		SET status            = $3,
		    protocol          = COALESCE($4, protocol),
		    receipt           = COALESCE($5, receipt),
		    authority_code    = COALESCE($6, authority_code),
		    authority_message = COALESCE($7, authority_message),
		    signed_xml        = COALESCE($8, signed_xml),
		    authority_xml     = COALESCE($9, authority_xml),
		    authorized_at     = COALESCE($10, authorized_at),
		    cancelled_at      = COALESCE($11, cancelled_at),
		    version           = version + 1,
		    updated_at        = now()
		WHERE id = $1 AND status = $2`
	tag, err := r.q.Exec(ctx, query,
		id, from, upd.Status,
		nullIfEmpty(upd.Protocol), nullIfEmpty(upd.Receipt), code, message,
		nullIfEmpty(upd.SignedXML), nullIfEmpty(upd.AuthorityXML), upd.AuthorizedAt, upd.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, from)
	}
	return nil
}

// ListByStatus documentos en los estados dados, más antiguos primero.
func (r *DocumentRepo) ListByStatus(ctx context.Context, statuses []string, limit int) ([]*entity.FiscalDocument, error) {
	if limit <= 0 {
		limit = 1000
	}
	return r.many(ctx, `SELECT `+documentColumns+` FROM fiscal_documents
		WHERE status = ANY($1) ORDER BY created_at LIMIT $2`, statuses, limit)
}

// FindInRange documentos numerados de la serie dentro de [from, to].
func (r *DocumentRepo) FindInRange(ctx context.Context, issuerID, model string, series int, from, to int64) ([]*entity.FiscalDocument, error) {
	return r.many(ctx, `SELECT `+documentColumns+` FROM fiscal_documents
		WHERE issuer_id = $1 AND model = $2 AND series = $3 AND number BETWEEN $4 AND $5
		ORDER BY number`, issuerID, model, series, from, to)
}

// NextSequence incrementa el contador de la serie en una sola sentencia (upsert ... RETURNING),
// atómica frente a otras instancias del servicio.
func (r *DocumentRepo) NextSequence(ctx context.Context, issuerID string, series int) (int64, error) {
	const query = `
		INSERT INTO document_series (issuer_id, series, last_number, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (issuer_id, series)
		DO UPDATE SET last_number = document_series.last_number + 1, updated_at = now()
		RETURNING last_number`
	var next int64
	if err := r.q.QueryRow(ctx, query, issuerID, series).Scan(&next); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}

func (r *DocumentRepo) missingOrConflict(ctx context.Context, id, expected string) error {
	var status string
	err := r.q.QueryRow(ctx, `SELECT status FROM fiscal_documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return fmt.Errorf("%w: se esperaba %s y el documento está en %s", domain.ErrConflict, expected, status)
}

func (r *DocumentRepo) one(ctx context.Context, query string, args ...any) (*entity.FiscalDocument, error) {
	doc, err := scanDocument(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepo) many(ctx context.Context, query string, args ...any) ([]*entity.FiscalDocument, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fiscal documents: %w", err)
	}
	defer rows.Close()
	var out []*entity.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (*entity.FiscalDocument, error) {
	var d entity.FiscalDocument
	var contingencySince *time.Time
	var protocol, receipt, unsigned, signed, authorityXML *string
	err := row.Scan(
		&d.ID, &d.IssuerID, &d.Model, &d.Series, &d.Number, &d.NumericCode, &d.AccessKey,
		&d.IssuedAt, &d.EmissionType, &d.Environment, &d.NatureOfOperation, &d.OperationType, &d.Finality,
		&d.PresenceIndicator, &d.FinalConsumer, &d.ReferencedKeys, &d.AdditionalInfo, &d.ContingencyReason,
		&contingencySince, &d.Buyer, &d.Items, &d.Payments, &d.Totals, &d.Status, &protocol, &receipt,
		&d.AuthorityCode, &d.AuthorityMessage, &unsigned, &signed, &authorityXML,
		&d.AuthorizedAt, &d.CancelledAt, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ContingencySince = derefTime(contingencySince)
	d.Protocol = derefStr(protocol)
	d.Receipt = derefStr(receipt)
	d.UnsignedXML = derefStr(unsigned)
	d.SignedXML = derefStr(signed)
	d.AuthorityXML = derefStr(authorityXML)
	return &d, nil
}

func itemsOrEmpty(items []*entity.DocumentItem) []*entity.DocumentItem {
	if items == nil {
		return []*entity.DocumentItem{}
	}
	return items
}

func paymentsOrEmpty(p []*entity.Payment) []*entity.Payment {
	if p == nil {
		return []*entity.Payment{}
	}
	return p
}
