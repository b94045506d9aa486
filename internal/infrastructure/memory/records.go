package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var (
	_ repository.CompanyRepository = (*CompanyStore)(nil)
	_ repository.CustomerStore     = (*CustomerStore)(nil)
)

// CompanyStore emisores cargados por el proceso (seed de desarrollo o tests).
type CompanyStore struct {
	mu        sync.RWMutex
	companies map[string]*entity.Company
}

// NewCompanyStore construye el almacén vacío.
func NewCompanyStore() *CompanyStore {
	return &CompanyStore{companies: make(map[string]*entity.Company)}
}

// PutCompany registra o reemplaza un emisor.
func (s *CompanyStore) PutCompany(c *entity.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.companies[c.ID] = &cp
}

// Upsert registra o reemplaza un emisor.
func (s *CompanyStore) Upsert(_ context.Context, c *entity.Company) error {
	s.PutCompany(c)
	return nil
}

func (s *CompanyStore) GetByID(_ context.Context, id string) (*entity.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// CustomerStore receptores por empresa.
type CustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*entity.Customer
}

// NewCustomerStore construye el almacén vacío.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{customers: make(map[string]*entity.Customer)}
}

// PutCustomer registra o reemplaza un receptor.
func (s *CustomerStore) PutCustomer(c *entity.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.customers[c.ID] = &cp
}

// Upsert registra o reemplaza un receptor. Un id de otra empresa no se sobrescribe.
func (s *CustomerStore) Upsert(_ context.Context, c *entity.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.customers[c.ID]; ok && prev.CompanyID != c.CompanyID {
		return fmt.Errorf("upsert customer %s: %w", c.ID, domain.ErrConflict)
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *CustomerStore) GetByID(_ context.Context, companyID, id string) (*entity.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok || c.CompanyID != companyID {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
