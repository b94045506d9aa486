package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// SubmissionRepository define el puerto de persistencia para envíos al SII.
type SubmissionRepository interface {
	// Create devuelve domain.ErrConflict si el documento ya tiene un envío registrado.
	Create(ctx context.Context, s *entity.AuthoritySubmission) error
	GetByDocumentID(ctx context.Context, documentID string) (*entity.AuthoritySubmission, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*entity.AuthoritySubmission, error)
	RecordPoll(ctx context.Context, documentID, statusCode, message, raw string, at time.Time) error
	SaveAcknowledgment(ctx context.Context, documentID, raw string, at time.Time) error
}
