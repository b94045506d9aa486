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

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

type folioKey struct {
	companyID string
	docType   int
	folio     int64
}

// DocumentRepo guarda documentos; replica el índice único (empresa, tipo, folio).
// Los envíos viven en un SubmissionRepo propio para que MarkSubmitted sea atómico.
type DocumentRepo struct {
	mu          sync.RWMutex
	docs        map[string]*entity.Document
	order       []string
	folios      map[folioKey]string
	submissions *SubmissionRepo
}

// NewDocumentRepository construye el repositorio vacío.
func NewDocumentRepository() *DocumentRepo {
	return &DocumentRepo{
		docs:        make(map[string]*entity.Document),
		folios:      make(map[folioKey]string),
		submissions: NewSubmissionRepository(),
	}
}

// Submissions repositorio de envíos que comparte transacción con este.
func (r *DocumentRepo) Submissions() *SubmissionRepo {
	return r.submissions
}

func cloneDocument(d *entity.Document) *entity.Document {
	cp := *d
	cp.Items = append([]entity.DocumentItem(nil), d.Items...)
	return &cp
}

func (r *DocumentRepo) Create(_ context.Context, doc *entity.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := folioKey{doc.CompanyID, doc.DocumentTypeCode, doc.FolioNumber}
	if other, ok := r.folios[k]; ok {
		return fmt.Errorf("folio %d ya usado por %s: %w", doc.FolioNumber, other, domain.ErrSequenceIntegrity)
	}
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrConflict)
	}
	cp := cloneDocument(doc)
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.docs[doc.ID] = cp
	r.order = append(r.order, doc.ID)
	r.folios[k] = doc.ID
	return nil
}

func (r *DocumentRepo) GetByID(_ context.Context, id string) (*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	return cloneDocument(d), nil
}

func (r *DocumentRepo) GetByTrackingID(_ context.Context, trackingID string) (*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if d := r.docs[id]; d.AuthorityTrackingID == trackingID && trackingID != "" {
			return cloneDocument(d), nil
		}
	}
	return nil, nil
}

func (r *DocumentRepo) UpdateState(_ context.Context, id string, ch entity.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.expect(id, ch.Expected)
	if err != nil {
		return err
	}
	apply(d, ch)
	return nil
}

func (r *DocumentRepo) MarkSubmitted(ctx context.Context, sub *entity.AuthoritySubmission, ch entity.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.expect(sub.DocumentID, ch.Expected)
	if err != nil {
		return err
	}
	if err := r.submissions.Create(ctx, sub); err != nil {
		return err
	}
	apply(d, ch)
	return nil
}

func (r *DocumentRepo) expect(id string, status entity.DocumentStatus) (*entity.Document, error) {
	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if d.Status != status {
		return nil, fmt.Errorf("documento %s en %s, se esperaba %s: %w", id, d.Status, status, domain.ErrConflict)
	}
	return d, nil
}

func apply(d *entity.Document, ch entity.StateChange) {
	d.Status = ch.Next
	if ch.SignedPayload != nil {
		d.SignedPayload = *ch.SignedPayload
	}
	if ch.UnsignedPayload != nil {
		d.UnsignedPayload = *ch.UnsignedPayload
	}
	if ch.TrackingID != nil {
		d.AuthorityTrackingID = *ch.TrackingID
	}
	if ch.AuthorityStatus != nil {
		d.AuthorityStatus = *ch.AuthorityStatus
	}
	if ch.Reason != nil {
		d.StatusReason = *ch.Reason
	}
	d.UpdatedAt = time.Now()
}

func (r *DocumentRepo) ListFolios(_ context.Context, companyID string, docType int) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for _, id := range r.order {
		if d := r.docs[id]; d.CompanyID == companyID && d.DocumentTypeCode == docType {
			out = append(out, d.FolioNumber)
		}
	}
	return out, nil
}

func (r *DocumentRepo) ListByStatus(_ context.Context, status entity.DocumentStatus, limit int) ([]*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Document
	for _, id := range r.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d := r.docs[id]; d.Status == status {
			out = append(out, cloneDocument(d))
		}
	}
	return out, nil
}

func (r *DocumentRepo) ListByCompany(_ context.Context, companyID string, status entity.DocumentStatus, limit, offset int) ([]*entity.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Document
	skipped := 0
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.docs[r.order[i]]
		if d.CompanyID != companyID || (status != "" && d.Status != status) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneDocument(d))
	}
	return out, nil
}
