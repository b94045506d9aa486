package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// Asegura que CompanyRepo implementa repository.CompanyRepository.
var _ repository.CompanyStore = (*CompanyRepo)(nil)

// CompanyRepo implementación del puerto CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador de persistencia para empresas.
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

// Upsert crea o actualiza el emisor (carga inicial desde dtectl).
func (r *CompanyRepo) Upsert(ctx context.Context, c *entity.Company) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO companies (id, rut, business_name, activity, activity_code, address, commune, city,
			resolution_number, resolution_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			rut = EXCLUDED.rut, business_name = EXCLUDED.business_name, activity = EXCLUDED.activity,
			activity_code = EXCLUDED.activity_code, address = EXCLUDED.address, commune = EXCLUDED.commune,
			city = EXCLUDED.city, resolution_number = EXCLUDED.resolution_number,
			resolution_date = EXCLUDED.resolution_date`,
		c.ID, c.RUT, c.BusinessName, c.Activity, c.ActivityCode, c.Address, c.Commune, c.City,
		c.ResolutionNumber, c.ResolutionDate,
	)
	if err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}

// GetByID obtiene una empresa por ID.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, rut, business_name, activity, activity_code, address, commune, city,
		       resolution_number, resolution_date
		FROM companies WHERE id = $1`
	var c entity.Company
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.RUT, &c.BusinessName, &c.Activity, &c.ActivityCode, &c.Address, &c.Commune, &c.City,
		&c.ResolutionNumber, &c.ResolutionDate,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}
