package repository

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// CustomerRepository puerto de lectura de receptores, acotado a la empresa.
type CustomerRepository interface {
	GetByID(ctx context.Context, companyID, id string) (*entity.Customer, error)
}

// CustomerStore lectura y alta/edición de receptores.
type CustomerStore interface {
	CustomerRepository
	Upsert(ctx context.Context, c *entity.Customer) error
}
