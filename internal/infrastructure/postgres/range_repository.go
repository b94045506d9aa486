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

var _ repository.RangeRepository = (*RangeRepo)(nil)

// RangeRepo implementación de RangeRepository (usable con pool o tx).
type RangeRepo struct {
	q Querier
}

// NewRangeRepository construye el adaptador. Pasar pool o tx (Querier).
func NewRangeRepository(q Querier) *RangeRepo {
	return &RangeRepo{q: q}
}

const rangeColumns = `id, company_id, document_type, from_number, to_number, current_number,
		issuer_rut, issuer_name, authorized_at, expires_at, raw_authorization,
		active, halted, halt_reason, created_at, updated_at`

func scanRange(row pgx.Row) (*entity.AuthorizedRange, error) {
	var r entity.AuthorizedRange
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.DocumentTypeCode, &r.FromNumber, &r.ToNumber, &r.CurrentNumber,
		&r.IssuerRUT, &r.IssuerName, &r.AuthorizedAt, &r.ExpiresAt, &r.RawAuthorization,
		&r.Active, &r.Halted, &r.HaltReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create persiste un rango nuevo.
func (r *RangeRepo) Create(ctx context.Context, rg *entity.AuthorizedRange) error {
	now := time.Now()
	if rg.CreatedAt.IsZero() {
		rg.CreatedAt = now
	}
	rg.UpdatedAt = now
	query := `
		INSERT INTO authorized_ranges (` + rangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.q.Exec(ctx, query,
		rg.ID, rg.CompanyID, rg.DocumentTypeCode, rg.FromNumber, rg.ToNumber, rg.CurrentNumber,
		rg.IssuerRUT, rg.IssuerName, rg.AuthorizedAt, rg.ExpiresAt, rg.RawAuthorization,
		rg.Active, rg.Halted, rg.HaltReason, rg.CreatedAt, rg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rango %s: %w", rg.ID, domain.ErrConflict)
		}
		return fmt.Errorf("insert authorized range: %w", err)
	}
	return nil
}

// GetByID devuelve nil, nil si no existe.
func (r *RangeRepo) GetByID(ctx context.Context, id string) (*entity.AuthorizedRange, error) {
	rg, err := scanRange(r.q.QueryRow(ctx, `SELECT `+rangeColumns+` FROM authorized_ranges WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get authorized range: %w", err)
	}
	return rg, nil
}

// ListByCompanyAndType lista todos los rangos, el más antiguo primero.
func (r *RangeRepo) ListByCompanyAndType(ctx context.Context, companyID string, docType int) ([]*entity.AuthorizedRange, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+rangeColumns+`
		FROM authorized_ranges
		WHERE company_id = $1 AND document_type = $2
		ORDER BY authorized_at, from_number`, companyID, docType)
	if err != nil {
		return nil, fmt.Errorf("list authorized ranges: %w", err)
	}
	defer rows.Close()
	var list []*entity.AuthorizedRange
	for rows.Next() {
		rg, err := scanRange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorized range: %w", err)
		}
		list = append(list, rg)
	}
	return list, rows.Err()
}

// AllocateNext incrementa current_number en una sola sentencia. El SELECT … FOR UPDATE serializa
// a los asignadores concurrentes sobre la misma fila; tras la espera PostgreSQL reevalúa el
// filtro, de modo que un rango agotado mientras tanto se salta y se toma el siguiente.
func (r *RangeRepo) AllocateNext(ctx context.Context, companyID string, docType int, now time.Time) (*entity.AuthorizedRange, error) {
	query := `
		UPDATE authorized_ranges
		SET current_number = current_number + 1,
		    active         = (current_number + 1 < to_number),
		    updated_at     = $3
		WHERE id = (
			SELECT id FROM authorized_ranges
			WHERE company_id = $1 AND document_type = $2
			  AND active AND NOT halted
			  AND expires_at > $3
			  AND current_number < to_number
			ORDER BY authorized_at, from_number
			LIMIT 1
			FOR UPDATE
		)
		RETURNING ` + rangeColumns
	rg, err := scanRange(r.q.QueryRow(ctx, query, companyID, docType, now))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNoActiveRange
		}
		return nil, fmt.Errorf("allocate folio: %w", err)
	}
	return rg, nil
}

// Deactivate marca el rango como inactivo.
func (r *RangeRepo) Deactivate(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE authorized_ranges SET active = FALSE, updated_at = now() WHERE id = $1`, id)
}

// Halt detiene la asignación del rango hasta revisión manual.
func (r *RangeRepo) Halt(ctx context.Context, id, reason string) error {
	return r.exec(ctx, `UPDATE authorized_ranges SET halted = TRUE, halt_reason = $2, updated_at = now() WHERE id = $1`, id, reason)
}

func (r *RangeRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update authorized range: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
