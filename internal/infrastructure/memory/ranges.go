// Package memory implementa los repositorios en memoria del proceso (STORAGE_DRIVER=memory y tests).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.RangeRepository = (*RangeRepo)(nil)

// RangeRepo guarda rangos de folios; un solo mutex serializa las asignaciones.
type RangeRepo struct {
	mu     sync.Mutex
	ranges map[string]*entity.AuthorizedRange
	order  []string
}

// NewRangeRepository construye el repositorio vacío.
func NewRangeRepository() *RangeRepo {
	return &RangeRepo{ranges: make(map[string]*entity.AuthorizedRange)}
}

func (r *RangeRepo) Create(_ context.Context, rg *entity.AuthorizedRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ranges[rg.ID]; ok {
		return fmt.Errorf("rango %s: %w", rg.ID, domain.ErrConflict)
	}
	cp := *rg
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.ranges[rg.ID] = &cp
	r.order = append(r.order, rg.ID)
	return nil
}

func (r *RangeRepo) GetByID(_ context.Context, id string) (*entity.AuthorizedRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.ranges[id]
	if !ok {
		return nil, nil
	}
	cp := *rg
	return &cp, nil
}

func (r *RangeRepo) ListByCompanyAndType(_ context.Context, companyID string, docType int) ([]*entity.AuthorizedRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(companyID, docType), nil
}

func (r *RangeRepo) listLocked(companyID string, docType int) []*entity.AuthorizedRange {
	var out []*entity.AuthorizedRange
	for _, id := range r.order {
		rg := r.ranges[id]
		if rg.CompanyID == companyID && rg.DocumentTypeCode == docType {
			cp := *rg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AuthorizedAt.Equal(out[j].AuthorizedAt) {
			return out[i].AuthorizedAt.Before(out[j].AuthorizedAt)
		}
		return out[i].FromNumber < out[j].FromNumber
	})
	return out
}

func (r *RangeRepo) AllocateNext(_ context.Context, companyID string, docType int, now time.Time) (*entity.AuthorizedRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cand := range r.listLocked(companyID, docType) {
		if !cand.Usable(now) {
			continue
		}
		rg := r.ranges[cand.ID]
		rg.CurrentNumber++
		if rg.Exhausted() {
			rg.Active = false
		}
		rg.UpdatedAt = now
		cp := *rg
		return &cp, nil
	}
	return nil, domain.ErrNoActiveRange
}

func (r *RangeRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.ranges[id]
	if !ok {
		return domain.ErrNotFound
	}
	rg.Active = false
	rg.UpdatedAt = time.Now()
	return nil
}

func (r *RangeRepo) Halt(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.ranges[id]
	if !ok {
		return domain.ErrNotFound
	}
	rg.Halted = true
	rg.HaltReason = reason
	rg.UpdatedAt = time.Now()
	return nil
}
