// Package usecase casos de uso de administración del emisor, fuera del ciclo de vida de los DTE.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// CompanyUseCase aplica las reglas de negocio del registro de emisores.
type CompanyUseCase struct {
	repo repository.CompanyStore
}

// NewCompanyUseCase construye el caso de uso con el puerto de persistencia.
func NewCompanyUseCase(repo repository.CompanyStore) *CompanyUseCase {
	return &CompanyUseCase{repo: repo}
}

// Save crea o actualiza el emisor id. Los datos deben bastar para armar el encabezado de un DTE.
func (uc *CompanyUseCase) Save(ctx context.Context, id string, in dto.CompanyRequest) (*dto.CompanyResponse, error) {
	if err := validateCompany(id, in); err != nil {
		return nil, err
	}
	company := &entity.Company{
		ID:               id,
		RUT:              strings.ToUpper(strings.TrimSpace(in.RUT)),
		BusinessName:     strings.TrimSpace(in.BusinessName),
		Activity:         strings.TrimSpace(in.Activity),
		ActivityCode:     in.ActivityCode,
		Address:          in.Address,
		Commune:          in.Commune,
		City:             in.City,
		ResolutionNumber: in.ResolutionNumber,
		ResolutionDate:   in.ResolutionDate,
	}
	if err := uc.repo.Upsert(ctx, company); err != nil {
		return nil, err
	}
	return dto.NewCompanyResponse(company), nil
}

// GetByID obtiene el emisor; ErrNotFound si no existe.
func (uc *CompanyUseCase) GetByID(ctx context.Context, id string) (*dto.CompanyResponse, error) {
	company, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("empresa %s: %w", id, domain.ErrNotFound)
	}
	return dto.NewCompanyResponse(company), nil
}

func validateCompany(id string, in dto.CompanyRequest) error {
	var errs []error
	if strings.TrimSpace(id) == "" {
		errs = append(errs, errors.New("id requerido"))
	}
	if err := sii.ValidateRUT(in.RUT); err != nil {
		errs = append(errs, fmt.Errorf("rut: %v", err))
	}
	if strings.TrimSpace(in.BusinessName) == "" {
		errs = append(errs, errors.New("business_name requerido"))
	}
	if strings.TrimSpace(in.Activity) == "" {
		errs = append(errs, errors.New("activity requerido"))
	}
	if in.ActivityCode <= 0 {
		errs = append(errs, errors.New("activity_code debe ser positivo"))
	}
	if in.ResolutionDate != "" {
		if _, err := time.Parse(time.DateOnly, in.ResolutionDate); err != nil {
			errs = append(errs, fmt.Errorf("resolution_date %q no es AAAA-MM-DD", in.ResolutionDate))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return nil
}
