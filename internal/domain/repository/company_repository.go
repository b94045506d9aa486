package repository

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// CompanyRepository puerto de lectura de datos del emisor.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// CompanyStore lectura y alta/edición del emisor (dtectl y perfil de la API).
type CompanyStore interface {
	CompanyRepository
	Upsert(ctx context.Context, c *entity.Company) error
}
