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

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo implementación de SubmissionRepository.
type SubmissionRepo struct {
	q Querier
}

// NewSubmissionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSubmissionRepository(q Querier) *SubmissionRepo {
	return &SubmissionRepo{q: q}
}

const submissionColumns = `id, document_id, company_id, tracking_id, environment, submitted_at, last_polled_at,
		authority_status_code, authority_message, raw_response, raw_acknowledgment, acknowledged_at`

func scanSubmission(row pgx.Row) (*entity.AuthoritySubmission, error) {
	var s entity.AuthoritySubmission
	err := row.Scan(
		&s.ID, &s.DocumentID, &s.CompanyID, &s.TrackingID, &s.Environment, &s.SubmittedAt, &s.LastPolledAt,
		&s.AuthorityStatusCode, &s.AuthorityMessage, &s.RawResponse, &s.RawAcknowledgment, &s.AcknowledgedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create registra el envío; un segundo envío del mismo documento devuelve domain.ErrConflict.
func (r *SubmissionRepo) Create(ctx context.Context, s *entity.AuthoritySubmission) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO authority_submissions (id, document_id, company_id, tracking_id, environment, submitted_at, raw_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.DocumentID, s.CompanyID, s.TrackingID, s.Environment, s.SubmittedAt, s.RawResponse,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("envío del documento %s: %w", s.DocumentID, domain.ErrConflict)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetByDocumentID devuelve nil, nil si el documento no se ha enviado.
func (r *SubmissionRepo) GetByDocumentID(ctx context.Context, documentID string) (*entity.AuthoritySubmission, error) {
	return r.getOne(ctx, `SELECT `+submissionColumns+` FROM authority_submissions WHERE document_id = $1`, documentID)
}

// GetByTrackingID devuelve nil, nil si no existe.
func (r *SubmissionRepo) GetByTrackingID(ctx context.Context, trackingID string) (*entity.AuthoritySubmission, error) {
	return r.getOne(ctx, `SELECT `+submissionColumns+` FROM authority_submissions WHERE tracking_id = $1`, trackingID)
}

func (r *SubmissionRepo) getOne(ctx context.Context, query, arg string) (*entity.AuthoritySubmission, error) {
	s, err := scanSubmission(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return s, nil
}

// RecordPoll guarda el último estado informado por el SII.
func (r *SubmissionRepo) RecordPoll(ctx context.Context, documentID, statusCode, message, raw string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE authority_submissions
		SET last_polled_at = $2, authority_status_code = $3, authority_message = $4,
		    raw_response = COALESCE($5, raw_response)
		WHERE document_id = $1`,
		documentID, at, statusCode, message, nullIfEmpty(raw))
}

// SaveAcknowledgment guarda el acuse de recibo.
func (r *SubmissionRepo) SaveAcknowledgment(ctx context.Context, documentID, raw string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE authority_submissions SET raw_acknowledgment = $2, acknowledged_at = $3
		WHERE document_id = $1`, documentID, raw, at)
}

func (r *SubmissionRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
