package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo guarda envíos indexados por documento.
type SubmissionRepo struct {
	mu    sync.RWMutex
	byDoc map[string]*entity.AuthoritySubmission
}

// NewSubmissionRepository construye el repositorio vacío.
func NewSubmissionRepository() *SubmissionRepo {
	return &SubmissionRepo{byDoc: make(map[string]*entity.AuthoritySubmission)}
}

func (r *SubmissionRepo) Create(_ context.Context, s *entity.AuthoritySubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byDoc[s.DocumentID]; ok {
		return fmt.Errorf("documento %s ya enviado con trackID %s: %w", s.DocumentID, prev.TrackingID, domain.ErrConflict)
	}
	cp := *s
	r.byDoc[s.DocumentID] = &cp
	return nil
}

func (r *SubmissionRepo) GetByDocumentID(_ context.Context, documentID string) (*entity.AuthoritySubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byDoc[documentID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *SubmissionRepo) GetByTrackingID(_ context.Context, trackingID string) (*entity.AuthoritySubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byDoc {
		if s.TrackingID == trackingID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *SubmissionRepo) RecordPoll(_ context.Context, documentID, statusCode, message, raw string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byDoc[documentID]
	if !ok {
		return domain.ErrNotFound
	}
	s.AuthorityStatusCode = statusCode
	s.AuthorityMessage = message
	s.RawResponse = raw
	s.LastPolledAt = &at
	return nil
}

func (r *SubmissionRepo) SaveAcknowledgment(_ context.Context, documentID, raw string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byDoc[documentID]
	if !ok {
		return domain.ErrNotFound
	}
	s.RawAcknowledgment = raw
	s.AcknowledgedAt = &at
	return nil
}
