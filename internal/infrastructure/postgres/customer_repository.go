package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.CustomerStore = (*CustomerRepo)(nil)

// CustomerRepo implementación del puerto CustomerRepository sobre PostgreSQL.
type CustomerRepo struct {
	q Querier
}

// NewCustomerRepository construye el adaptador.
func NewCustomerRepository(q Querier) *CustomerRepo {
	return &CustomerRepo{q: q}
}

// Upsert crea o actualiza un receptor. Un id de otra empresa no se sobrescribe.
func (r *CustomerRepo) Upsert(ctx context.Context, c *entity.Customer) error {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO customers (id, company_id, rut, business_name, activity, address, commune, city)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			rut = EXCLUDED.rut, business_name = EXCLUDED.business_name, activity = EXCLUDED.activity,
			address = EXCLUDED.address, commune = EXCLUDED.commune, city = EXCLUDED.city
		WHERE customers.company_id = EXCLUDED.company_id`,
		c.ID, c.CompanyID, c.RUT, c.BusinessName, c.Activity, c.Address, c.Commune, c.City,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert customer %s: %w", c.ID, domain.ErrConflict)
	}
	return nil
}

// GetByID obtiene un receptor de la empresa; nil, nil si no existe o pertenece a otra empresa.
func (r *CustomerRepo) GetByID(ctx context.Context, companyID, id string) (*entity.Customer, error) {
	query := `
		SELECT id, company_id, rut, business_name, activity, address, commune, city
		FROM customers WHERE id = $1 AND company_id = $2`
	var c entity.Customer
	err := r.q.QueryRow(ctx, query, id, companyID).Scan(
		&c.ID, &c.CompanyID, &c.RUT, &c.BusinessName, &c.Activity, &c.Address, &c.Commune, &c.City,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}
