// Package folio administra los rangos de folios autorizados por el SII (CAF): importación,
// asignación serializada por (empresa, tipo de documento), alertas y auditoría de secuencia.
package folio

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/pkg/keylock"
	"github.com/jhoicas/dte-api/pkg/logger"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

// ExpiryWarningWindow un CAF que vence dentro de este plazo se importa con advertencia.
const ExpiryWarningWindow = 30 * 24 * time.Hour

// RangeImport rango creado y advertencias no fatales.
type RangeImport struct {
	Range    *entity.AuthorizedRange
	Warnings []string
}

// Allocation folio asignado.
type Allocation struct {
	FolioNumber int64
	Remaining   int64
	RangeID     string
	Alert       dte.Alert
}

// Service FolioAuthority.
type Service struct {
	ranges       repository.RangeRepository
	docs         repository.DocumentRepository
	events       ports.EventPublisher
	metrics      ports.Metrics
	authorityKey *rsa.PublicKey
	log          *logger.Logger
	now          func() time.Time
	locks        keylock.Map
}

// NewService construye el servicio. events y metrics pueden ser nil.
func NewService(
	ranges repository.RangeRepository,
	docs repository.DocumentRepository,
	events ports.EventPublisher,
	metrics ports.Metrics,
	log *logger.Logger,
) *Service {
	if events == nil {
		events = ports.NopPublisher{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		ranges:  ranges,
		docs:    docs,
		events:  events,
		metrics: metrics,
		log:     log.Component("folio"),
		now:     time.Now,
	}
}

// WithAuthorityKey llave pública del SII para verificar la FRMA de los CAF.
func (s *Service) WithAuthorityKey(k *rsa.PublicKey) *Service {
	s.authorityKey = k
	return s
}

// WithClock reemplaza el reloj (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func lockKey(companyID string, docType int) string {
	return companyID + "|" + strconv.Itoa(docType)
}

// ImportRange valida y registra un CAF. Un CAF por vencer o sin FRMA se acepta con advertencia;
// uno vencido o que se superpone con un rango activo vigente es error.
func (s *Service) ImportRange(ctx context.Context, raw []byte, companyID string) (*RangeImport, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id requerido", domain.ErrValidation)
	}
	grant, err := sii.ParseCAF(raw)
	if err != nil {
		return nil, err
	}

	var errs []error
	if !siicat.IsValidDocumentType(grant.DocumentTypeCode) {
		errs = append(errs, fmt.Errorf("tipo de documento %d no autorizado", grant.DocumentTypeCode))
	}
	if grant.From >= grant.To {
		errs = append(errs, fmt.Errorf("rango inválido: desde %d debe ser menor que hasta %d", grant.From, grant.To))
	}
	if err := grant.ValidateIssuer(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}

	now := s.now()
	if grant.ExpiresAt.IsZero() || !now.Before(grant.ExpiresAt) {
		return nil, fmt.Errorf("%w: el CAF venció el %s", domain.ErrRangeExpired, grant.ExpiresAt.Format(time.DateOnly))
	}

	var warnings []string
	switch {
	case !grant.HasSignature():
		warnings = append(warnings, "el CAF no trae firma del SII (FRMA)")
	case s.authorityKey == nil:
		warnings = append(warnings, "sin llave pública del SII configurada: FRMA no verificada")
	default:
		if err := grant.VerifySignature(s.authorityKey); err != nil {
			return nil, err
		}
	}
	if left := grant.ExpiresAt.Sub(now); left <= ExpiryWarningWindow {
		warnings = append(warnings, fmt.Sprintf("el CAF vence en %d días", int(left.Hours()/24)))
	}

	unlock := s.locks.Lock(lockKey(companyID, grant.DocumentTypeCode))
	defer unlock()

	existing, err := s.ranges.ListByCompanyAndType(ctx, companyID, grant.DocumentTypeCode)
	if err != nil {
		return nil, fmt.Errorf("listar rangos: %w", err)
	}
	reissued := false
	for _, r := range existing {
		if !r.Overlaps(grant.From, grant.To) {
			continue
		}
		if r.Active && !r.IsExpired(now) {
			return nil, fmt.Errorf("%w: [%d, %d] intersecta el rango %s [%d, %d]",
				domain.ErrRangeOverlap, grant.From, grant.To, r.ID, r.FromNumber, r.ToNumber)
		}
		reissued = true
	}

	rg, err := entity.NewAuthorizedRange(entity.RangeParams{
		ID:               uuid.NewString(),
		CompanyID:        companyID,
		DocumentTypeCode: grant.DocumentTypeCode,
		FromNumber:       grant.From,
		ToNumber:         grant.To,
		IssuerRUT:        grant.IssuerRUT,
		IssuerName:       grant.IssuerName,
		AuthorizedAt:     grant.AuthorizedAt,
		ExpiresAt:        grant.ExpiresAt,
		RawAuthorization: grant.Raw,
	})
	if err != nil {
		return nil, err
	}
	// Un folio emitido nunca se vuelve a entregar, aunque su rango anterior esté inactivo.
	if reissued {
		last, err := s.lastIssuedWithin(ctx, companyID, grant.DocumentTypeCode, grant.From, grant.To)
		if err != nil {
			return nil, err
		}
		if last >= rg.FromNumber {
			rg.CurrentNumber = last
			warnings = append(warnings, fmt.Sprintf("folios hasta %d ya fueron emitidos con un CAF anterior", last))
			if rg.Exhausted() {
				rg.Active = false
			}
		}
	}

	if err := s.ranges.Create(ctx, rg); err != nil {
		return nil, fmt.Errorf("guardar rango: %w", err)
	}
	s.log.Info().
		Str("company_id", companyID).
		Int("document_type", rg.DocumentTypeCode).
		Int64("from", rg.FromNumber).
		Int64("to", rg.ToNumber).
		Time("expires_at", rg.ExpiresAt).
		Strs("warnings", warnings).
		Msg("CAF importado")
	return &RangeImport{Range: rg, Warnings: warnings}, nil
}

func (s *Service) lastIssuedWithin(ctx context.Context, companyID string, docType int, from, to int64) (int64, error) {
	folios, err := s.docs.ListFolios(ctx, companyID, docType)
	if err != nil {
		return 0, fmt.Errorf("listar folios emitidos: %w", err)
	}
	last := from - 1
	for _, f := range folios {
		if f >= from && f <= to && f > last {
			last = f
		}
	}
	return last, nil
}

// AllocateNext entrega el siguiente folio del rango utilizable más antiguo. La asignación se
// serializa en el proceso por (empresa, tipo) y el repositorio la hace atómica.
func (s *Service) AllocateNext(ctx context.Context, companyID string, docType int) (*Allocation, error) {
	if !siicat.IsValidDocumentType(docType) {
		return nil, fmt.Errorf("%w: tipo de documento %d no autorizado", domain.ErrValidation, docType)
	}
	unlock := s.locks.Lock(lockKey(companyID, docType))
	defer unlock()

	now := s.now()
	rg, err := s.ranges.AllocateNext(ctx, companyID, docType, now)
	if errors.Is(err, domain.ErrNoActiveRange) {
		return nil, s.unavailable(ctx, companyID, docType, now)
	}
	if err != nil {
		return nil, fmt.Errorf("asignar folio: %w", err)
	}

	alloc := &Allocation{
		FolioNumber: rg.CurrentNumber,
		Remaining:   rg.Remaining(),
		RangeID:     rg.ID,
		Alert:       s.RemainingAlert(rg),
	}
	s.metrics.ObserveFolioAllocation(docType, alloc.Remaining)
	s.log.Debug().
		Str("company_id", companyID).
		Int("document_type", docType).
		Int64("folio", alloc.FolioNumber).
		Int64("remaining", alloc.Remaining).
		Msg("folio asignado")
	if alloc.Alert.Level != dte.AlertOK {
		s.metrics.IncFolioAlert(string(alloc.Alert.Level))
		s.log.Warn().
			Str("company_id", companyID).
			Int("document_type", docType).
			Int64("remaining", alloc.Remaining).
			Str("severity", string(alloc.Alert.Level)).
			Msg("quedan pocos folios en el rango")
	}
	s.publish(ctx, ports.FolioAlert{
		CompanyID:        companyID,
		DocumentTypeCode: docType,
		RangeID:          rg.ID,
		Remaining:        alloc.Remaining,
		Severity:         alloc.Alert.Level,
		OccurredAt:       now,
	})
	return alloc, nil
}

// unavailable explica por qué no hay folio: rango detenido, agotado, vencido o inexistente.
func (s *Service) unavailable(ctx context.Context, companyID string, docType int, now time.Time) error {
	rs, err := s.ranges.ListByCompanyAndType(ctx, companyID, docType)
	if err != nil {
		return fmt.Errorf("listar rangos: %w", err)
	}
	var halted, exhausted, expired bool
	for _, r := range rs {
		switch {
		case r.Halted && !r.Exhausted():
			halted = true
		case r.Exhausted():
			exhausted = true
		case r.Active && r.IsExpired(now):
			expired = true
		}
	}
	switch {
	case halted:
		return fmt.Errorf("%w: empresa %s tipo %d", domain.ErrSequenceIntegrity, companyID, docType)
	case exhausted:
		return fmt.Errorf("%w: empresa %s tipo %d", domain.ErrRangeExhausted, companyID, docType)
	case expired:
		return fmt.Errorf("%w: empresa %s tipo %d", domain.ErrRangeExpired, companyID, docType)
	}
	return fmt.Errorf("%w: empresa %s tipo %d", domain.ErrNoActiveRange, companyID, docType)
}

// RemainingAlert nivel de alerta según los folios restantes del rango.
func (s *Service) RemainingAlert(r *entity.AuthorizedRange) dte.Alert {
	return dte.RemainingAlert(r.Remaining())
}

// ValidateSequence diagnóstico de huecos y duplicados sobre folios emitidos.
func (s *Service) ValidateSequence(issued []int64) dte.SequenceReport {
	return dte.ValidateSequence(issued)
}

// AuditSequence revisa los folios emitidos de (empresa, tipo). Un duplicado detiene cada rango
// que lo contiene hasta revisión manual y emite una alerta crítica.
func (s *Service) AuditSequence(ctx context.Context, companyID string, docType int) (*dte.SequenceReport, error) {
	folios, err := s.docs.ListFolios(ctx, companyID, docType)
	if err != nil {
		return nil, fmt.Errorf("listar folios emitidos: %w", err)
	}
	report := dte.ValidateSequence(folios)
	if !report.HasDuplicates() {
		return &report, nil
	}

	unlock := s.locks.Lock(lockKey(companyID, docType))
	defer unlock()

	rs, err := s.ranges.ListByCompanyAndType(ctx, companyID, docType)
	if err != nil {
		return nil, fmt.Errorf("listar rangos: %w", err)
	}
	for _, r := range rs {
		if r.Halted || !coversAny(r, report.Duplicates) {
			continue
		}
		if err := s.halt(ctx, r, report.Duplicates); err != nil {
			return nil, err
		}
	}
	return &report, nil
}

// HaltForDuplicate detiene el rango cuando el folio que entregó ya estaba usado por otro documento
// (el índice único lo rechazó al guardar). El rango queda fuera de la asignación hasta revisión manual.
func (s *Service) HaltForDuplicate(ctx context.Context, rangeID string, folio int64) error {
	r, err := s.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(lockKey(r.CompanyID, r.DocumentTypeCode))
	defer unlock()
	if r.Halted {
		return nil
	}
	return s.halt(ctx, r, []int64{folio})
}

func (s *Service) halt(ctx context.Context, r *entity.AuthorizedRange, duplicates []int64) error {
	reason := fmt.Sprintf("folios duplicados %v", duplicates)
	if err := s.ranges.Halt(ctx, r.ID, reason); err != nil {
		return fmt.Errorf("detener rango %s: %w", r.ID, err)
	}
	s.log.Error().
		Str("company_id", r.CompanyID).
		Int("document_type", r.DocumentTypeCode).
		Str("range_id", r.ID).
		Ints64("duplicates", duplicates).
		Msg("folio duplicado: rango detenido para revisión manual")
	s.metrics.IncFolioAlert(string(dte.AlertCritical))
	s.publish(ctx, ports.FolioAlert{
		CompanyID:        r.CompanyID,
		DocumentTypeCode: r.DocumentTypeCode,
		RangeID:          r.ID,
		Remaining:        r.Remaining(),
		Severity:         dte.AlertCritical,
		OccurredAt:       s.now(),
	})
	return nil
}

func coversAny(r *entity.AuthorizedRange, folios []int64) bool {
	for _, f := range folios {
		if r.Covers(f) {
			return true
		}
	}
	return false
}

// RetireRange desactiva un rango; nunca se elimina.
func (s *Service) RetireRange(ctx context.Context, rangeID string) error {
	r, err := s.ranges.GetByID(ctx, rangeID)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("rango %s: %w", rangeID, domain.ErrNotFound)
	}
	if err := s.ranges.Deactivate(ctx, rangeID); err != nil {
		return err
	}
	s.log.Info().Str("range_id", rangeID).Str("company_id", r.CompanyID).Msg("rango retirado")
	return nil
}

// GetRange devuelve el rango o domain.ErrNotFound.
func (s *Service) GetRange(ctx context.Context, rangeID string) (*entity.AuthorizedRange, error) {
	r, err := s.ranges.GetByID(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("rango %s: %w", rangeID, domain.ErrNotFound)
	}
	return r, nil
}

// ListRanges rangos de (empresa, tipo), el más antiguo primero.
func (s *Service) ListRanges(ctx context.Context, companyID string, docType int) ([]*entity.AuthorizedRange, error) {
	return s.ranges.ListByCompanyAndType(ctx, companyID, docType)
}

func (s *Service) publish(ctx context.Context, ev ports.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.EventName()).Msg("no se pudo publicar el evento")
	}
}
