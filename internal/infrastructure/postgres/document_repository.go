package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

const folioConstraint = "documents_folio_unique"

// DocumentRepo implementación de DocumentRepository (usable con pool o tx).
type DocumentRepo struct {
	q  Querier
	tx *TxRunner
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q, tx: NewTxRunner(q)}
}

const documentColumns = `id, company_id, client_id, document_type, folio_number, COALESCE(range_id, ''), issue_date,
		net_amount, exempt_amount, tax_amount, total_amount, status,
		COALESCE(unsigned_payload, ''), COALESCE(signed_payload, ''),
		COALESCE(authority_tracking_id, ''), COALESCE(authority_status, ''), COALESCE(status_reason, ''),
		created_at, updated_at`

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var d entity.Document
	var status string
	err := row.Scan(
		&d.ID, &d.CompanyID, &d.ClientID, &d.DocumentTypeCode, &d.FolioNumber, &d.RangeID, &d.IssueDate,
		&d.NetAmount, &d.ExemptAmount, &d.TaxAmount, &d.TotalAmount, &status,
		&d.UnsignedPayload, &d.SignedPayload,
		&d.AuthorityTrackingID, &d.AuthorityStatus, &d.StatusReason,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = entity.DocumentStatus(status)
	return &d, nil
}

// Create persiste cabecera y líneas en una transacción.
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	return r.tx.Run(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (id, company_id, client_id, document_type, folio_number, range_id, issue_date,
				net_amount, exempt_amount, tax_amount, total_amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			doc.ID, doc.CompanyID, doc.ClientID, doc.DocumentTypeCode, doc.FolioNumber, nullIfEmpty(doc.RangeID), doc.IssueDate,
			doc.NetAmount, doc.ExemptAmount, doc.TaxAmount, doc.TotalAmount, string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				if violatedConstraint(err) == folioConstraint {
					return fmt.Errorf("folio %d: %w", doc.FolioNumber, domain.ErrSequenceIntegrity)
				}
				return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrConflict)
			}
			return fmt.Errorf("insert document: %w", err)
		}
		batch := &pgx.Batch{}
		for _, it := range doc.Items {
			batch.Queue(`
				INSERT INTO document_items (document_id, line_number, description, quantity, unit_price,
					tax_classification, net, tax, total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				doc.ID, it.LineNumber, it.Description, it.Quantity, it.UnitPrice,
				it.TaxClassification, it.Net, it.Tax, it.Total,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert document items: %w", err)
		}
		return nil
	})
}

// GetByID devuelve nil, nil si no existe.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
}

// GetByTrackingID devuelve nil, nil si ningún documento tiene ese trackID.
func (r *DocumentRepo) GetByTrackingID(ctx context.Context, trackingID string) (*entity.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE authority_tracking_id = $1`, trackingID)
}

func (r *DocumentRepo) getOne(ctx context.Context, query string, arg string) (*entity.Document, error) {
	d, err := scanDocument(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := r.loadItems(ctx, []*entity.Document{d}); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateState compare-and-set sobre status.
func (r *DocumentRepo) UpdateState(ctx context.Context, id string, ch entity.StateChange) error {
	return updateState(ctx, r.q, id, ch)
}

// MarkSubmitted inserta el envío y avanza el documento dentro de la misma transacción.
func (r *DocumentRepo) MarkSubmitted(ctx context.Context, sub *entity.AuthoritySubmission, ch entity.StateChange) error {
	return r.tx.Run(ctx, func(tx pgx.Tx) error {
		if err := updateState(ctx, tx, sub.DocumentID, ch); err != nil {
			return err
		}
		return NewSubmissionRepository(tx).Create(ctx, sub)
	})
}

func updateState(ctx context.Context, q Querier, id string, ch entity.StateChange) error {
	tag, err := q.Exec(ctx, `
		UPDATE documents
		SET status                = $3,
		    signed_payload        = COALESCE($4, signed_payload),
		    unsigned_payload      = COALESCE($5, unsigned_payload),
		    authority_tracking_id = COALESCE($6, authority_tracking_id),
		    authority_status      = COALESCE($7, authority_status),
		    status_reason         = COALESCE($8, status_reason),
		    updated_at            = now()
		WHERE id = $1 AND status = $2`,
		id, string(ch.Expected), string(ch.Next),
		ch.SignedPayload, ch.UnsignedPayload, ch.TrackingID, ch.AuthorityStatus, ch.Reason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("trackID ya asignado a otro documento: %w", domain.ErrConflict)
		}
		return fmt.Errorf("update document state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	if err := q.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current); err != nil {
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get document state: %w", err)
	}
	return fmt.Errorf("documento %s en %s, se esperaba %s: %w", id, current, ch.Expected, domain.ErrConflict)
}

// ListFolios folios emitidos, incluidos los de documentos anulados o rechazados.
func (r *DocumentRepo) ListFolios(ctx context.Context, companyID string, docType int) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT folio_number FROM documents
		WHERE company_id = $1 AND document_type = $2
		ORDER BY folio_number`, companyID, docType)
	if err != nil {
		return nil, fmt.Errorf("list folios: %w", err)
	}
	folios, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan folios: %w", err)
	}
	return folios, nil
}

// ListByStatus documentos en el estado dado, el menos recientemente actualizado primero.
func (r *DocumentRepo) ListByStatus(ctx context.Context, status entity.DocumentStatus, limit int) ([]*entity.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2`, string(status), limit)
}

// ListByCompany página de documentos de la empresa; status vacío = todos.
func (r *DocumentRepo) ListByCompany(ctx context.Context, companyID string, status entity.DocumentStatus, limit, offset int) ([]*entity.Document, error) {
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE company_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, folio_number DESC
		LIMIT $3 OFFSET $4`, companyID, string(status), limit, offset)
}

func (r *DocumentRepo) list(ctx context.Context, query string, args ...any) ([]*entity.Document, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *DocumentRepo) loadItems(ctx context.Context, docs []*entity.Document) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[string]*entity.Document, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	rows, err := r.q.Query(ctx, `
		SELECT document_id, line_number, description, quantity, unit_price, tax_classification, net, tax, total
		FROM document_items
		WHERE document_id = ANY($1)
		ORDER BY document_id, line_number`, ids)
	if err != nil {
		return fmt.Errorf("list document items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var it entity.DocumentItem
		if err := rows.Scan(&docID, &it.LineNumber, &it.Description, &it.Quantity, &it.UnitPrice,
			&it.TaxClassification, &it.Net, &it.Tax, &it.Total); err != nil {
			return fmt.Errorf("scan document item: %w", err)
		}
		if d := byID[docID]; d != nil {
			d.Items = append(d.Items, it)
		}
	}
	return rows.Err()
}
