package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// RangeRepository define el puerto de persistencia para rangos de folios (CAF).
// Los rangos nunca se eliminan: se desactivan o se detienen.
type RangeRepository interface {
	Create(ctx context.Context, r *entity.AuthorizedRange) error
	// GetByID devuelve nil, nil si no existe.
	GetByID(ctx context.Context, id string) (*entity.AuthorizedRange, error)
	// ListByCompanyAndType lista todos los rangos (activos e inactivos), el más antiguo primero.
	ListByCompanyAndType(ctx context.Context, companyID string, docType int) ([]*entity.AuthorizedRange, error)

	// AllocateNext incrementa atómicamente current_number del rango utilizable más antiguo
	// (activo, no detenido, no vencido en now, con capacidad) y devuelve el rango actualizado:
	// CurrentNumber es el folio asignado. Si el folio asignado es el último, el rango queda inactivo.
	// Devuelve domain.ErrNoActiveRange si ningún rango puede entregar folios; no modifica nada en ese caso.
	AllocateNext(ctx context.Context, companyID string, docType int, now time.Time) (*entity.AuthorizedRange, error)

	Deactivate(ctx context.Context, id string) error
	Halt(ctx context.Context, id, reason string) error
}
