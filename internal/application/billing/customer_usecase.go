package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// CustomerUseCase alta y consulta de receptores de la empresa emisora.
type CustomerUseCase struct {
	repo repository.CustomerStore
}

// NewCustomerUseCase construye el caso de uso.
func NewCustomerUseCase(repo repository.CustomerStore) *CustomerUseCase {
	return &CustomerUseCase{repo: repo}
}

// Register crea o actualiza un receptor. El RUT debe tener dígito verificador válido.
func (uc *CustomerUseCase) Register(ctx context.Context, companyID string, in dto.CustomerRequest) (*dto.CustomerResponse, error) {
	var errs []error
	if err := sii.ValidateRUT(in.RUT); err != nil {
		errs = append(errs, fmt.Errorf("rut: %v", err))
	}
	if strings.TrimSpace(in.BusinessName) == "" {
		errs = append(errs, errors.New("business_name requerido"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	customer := &entity.Customer{
		ID:           in.ID,
		CompanyID:    companyID,
		RUT:          strings.ToUpper(strings.TrimSpace(in.RUT)),
		BusinessName: strings.TrimSpace(in.BusinessName),
		Activity:     in.Activity,
		Address:      in.Address,
		Commune:      in.Commune,
		City:         in.City,
	}
	if err := uc.repo.Upsert(ctx, customer); err != nil {
		return nil, err
	}
	return dto.NewCustomerResponse(customer), nil
}

// Get obtiene un receptor de la empresa; ErrNotFound si no existe.
func (uc *CustomerUseCase) Get(ctx context.Context, companyID, id string) (*dto.CustomerResponse, error) {
	c, err := uc.repo.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("receptor %s: %w", id, domain.ErrNotFound)
	}
	return dto.NewCustomerResponse(c), nil
}
