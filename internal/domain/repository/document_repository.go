package repository

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// DocumentRepository define el puerto de persistencia para documentos y sus líneas.
type DocumentRepository interface {
	// Create persiste cabecera y líneas. Un folio repetido para (empresa, tipo) devuelve
	// domain.ErrSequenceIntegrity.
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*entity.Document, error)

	// UpdateState aplica el cambio solo si el estado persistido es ch.Expected;
	// si no, devuelve domain.ErrConflict (otro proceso avanzó el documento).
	UpdateState(ctx context.Context, id string, ch entity.StateChange) error

	// MarkSubmitted registra el envío y aplica ch (signed → sent) en una sola transacción:
	// quedan ambos o ninguno.
	MarkSubmitted(ctx context.Context, sub *entity.AuthoritySubmission, ch entity.StateChange) error

	// ListFolios folios emitidos (todas las filas, incluidas anuladas) para auditoría de secuencia.
	ListFolios(ctx context.Context, companyID string, docType int) ([]int64, error)
	ListByStatus(ctx context.Context, status entity.DocumentStatus, limit int) ([]*entity.Document, error)
	// ListByCompany página de documentos de la empresa, más recientes primero. status vacío = todos.
	ListByCompany(ctx context.Context, companyID string, status entity.DocumentStatus, limit, offset int) ([]*entity.Document, error)
}
