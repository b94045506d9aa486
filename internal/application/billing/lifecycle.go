// Package billing orquesta el ciclo de vida del DTE:
//
//	draft → signed → sent → accepted | rejected
//
// Lifecycle es el único componente que cambia el estado persistido de un documento. Cada cambio
// se guarda con compare-and-set sobre el estado anterior y solo avanza ante una respuesta confirmada.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/pkg/keylock"
	"github.com/jhoicas/dte-api/pkg/logger"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

// PollConcurrency consultas de estado simultáneas en PollPending.
const PollConcurrency = 8

// DefaultPollDelay espera antes de la primera consulta de estado tras el envío.
const DefaultPollDelay = time.Minute

// Deps dependencias explícitas del orquestador; ninguna se obtiene de estado global.
type Deps struct {
	Folios      *folio.Service
	Documents   repository.DocumentRepository
	Submissions repository.SubmissionRepository
	Companies   repository.CompanyRepository
	Customers   repository.CustomerRepository
	Builder     DocumentBuilder
	Signer      DocumentSigner
	Credentials signer.CredentialStore
	Gateway     AuthorityGateway

	Events    ports.EventPublisher      // opcional
	Scheduler ports.StatusPollScheduler // opcional
	Metrics   ports.Metrics             // opcional
	Log       *logger.Logger            // opcional

	// SenderRUT RUT de la persona que envía (titular del certificado). Vacío = RUT de la empresa.
	SenderRUT string
	PollDelay time.Duration
}

// Lifecycle DocumentLifecycle.
type Lifecycle struct {
	folios      *folio.Service
	docs        repository.DocumentRepository
	submissions repository.SubmissionRepository
	companies   repository.CompanyRepository
	customers   repository.CustomerRepository
	builder     DocumentBuilder
	signer      DocumentSigner
	credentials signer.CredentialStore
	gateway     AuthorityGateway
	events      ports.EventPublisher
	scheduler   ports.StatusPollScheduler
	metrics     ports.Metrics
	log         *logger.Logger
	senderRUT   string
	pollDelay   time.Duration
	now         func() time.Time
	locks       keylock.Map
	unsaved     sync.Map // documentID → *entity.AuthoritySubmission con trackID aún no guardado
}

// NewLifecycle valida las dependencias obligatorias.
func NewLifecycle(d Deps) (*Lifecycle, error) {
	var missing []string
	check := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check(d.Folios != nil, "Folios")
	check(d.Documents != nil, "Documents")
	check(d.Submissions != nil, "Submissions")
	check(d.Companies != nil, "Companies")
	check(d.Customers != nil, "Customers")
	check(d.Builder != nil, "Builder")
	check(d.Signer != nil, "Signer")
	check(d.Credentials != nil, "Credentials")
	check(d.Gateway != nil, "Gateway")
	if len(missing) > 0 {
		return nil, fmt.Errorf("billing: faltan dependencias: %s", strings.Join(missing, ", "))
	}
	if d.Events == nil {
		d.Events = ports.NopPublisher{}
	}
	if d.Scheduler == nil {
		d.Scheduler = ports.NopScheduler{}
	}
	if d.Metrics == nil {
		d.Metrics = ports.NopMetrics{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.PollDelay <= 0 {
		d.PollDelay = DefaultPollDelay
	}
	return &Lifecycle{
		folios:      d.Folios,
		docs:        d.Documents,
		submissions: d.Submissions,
		companies:   d.Companies,
		customers:   d.Customers,
		builder:     d.Builder,
		signer:      d.Signer,
		credentials: d.Credentials,
		gateway:     d.Gateway,
		events:      d.Events,
		scheduler:   d.Scheduler,
		metrics:     d.Metrics,
		log:         d.Log.Component("lifecycle"),
		senderRUT:   d.SenderRUT,
		pollDelay:   d.PollDelay,
		now:         time.Now,
	}, nil
}

// WithClock reemplaza el reloj (tests).
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// ── Creación ──────────────────────────────────────────────────────────────────

// ItemInput línea de detalle a emitir.
type ItemInput struct {
	Description       string
	Quantity          decimal.Decimal
	UnitPrice         decimal.Decimal
	TaxClassification string
}

// CreateDocumentInput datos del borrador.
type CreateDocumentInput struct {
	CompanyID        string
	ClientID         string
	DocumentTypeCode int
	IssueDate        time.Time // cero = hoy
	Items            []ItemInput
}

// CreateDraftDocument valida empresa, receptor y líneas, asigna folio y persiste el borrador.
// Si la asignación falla no se crea documento; un folio asignado nunca se libera.
func (l *Lifecycle) CreateDraftDocument(ctx context.Context, in CreateDocumentInput) (*entity.Document, error) {
	items := make([]entity.DocumentItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = entity.DocumentItem{
			Description:       strings.TrimSpace(it.Description),
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			TaxClassification: it.TaxClassification,
		}
	}
	if err := dte.ValidateItems(in.DocumentTypeCode, items); err != nil {
		return nil, err
	}
	company, err := l.companies.GetByID(ctx, in.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("obtener empresa: %w", err)
	}
	if company == nil {
		return nil, fmt.Errorf("%w: empresa %q no existe", domain.ErrValidation, in.CompanyID)
	}
	client, err := l.customers.GetByID(ctx, in.CompanyID, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("obtener receptor: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: receptor %q no existe", domain.ErrValidation, in.ClientID)
	}
	var errs []error
	if err := siicat.ValidateRUT(company.RUT); err != nil {
		errs = append(errs, fmt.Errorf("RUT emisor: %w", err))
	}
	if err := siicat.ValidateRUT(client.RUT); err != nil {
		errs = append(errs, fmt.Errorf("RUT receptor: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}

	alloc, err := l.folios.AllocateNext(ctx, in.CompanyID, in.DocumentTypeCode)
	if err != nil {
		return nil, err
	}

	lines, totals := dte.ComputeAmounts(items)
	issue := in.IssueDate
	if issue.IsZero() {
		issue = l.now()
	}
	doc := &entity.Document{
		ID:               uuid.NewString(),
		CompanyID:        in.CompanyID,
		ClientID:         in.ClientID,
		DocumentTypeCode: in.DocumentTypeCode,
		FolioNumber:      alloc.FolioNumber,
		RangeID:          alloc.RangeID,
		IssueDate:        time.Date(issue.Year(), issue.Month(), issue.Day(), 0, 0, 0, 0, time.UTC),
		Items:            lines,
		NetAmount:        totals.Net,
		ExemptAmount:     totals.Exempt,
		TaxAmount:        totals.Tax,
		TotalAmount:      totals.Total,
		Status:           entity.StatusDraft,
	}
	if err := l.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, domain.ErrSequenceIntegrity) {
			l.log.Error().Err(err).Str("company_id", doc.CompanyID).Int64("folio", doc.FolioNumber).Msg("folio ya usado por otro documento")
			if herr := l.folios.HaltForDuplicate(context.WithoutCancel(ctx), alloc.RangeID, doc.FolioNumber); herr != nil {
				l.log.Error().Err(herr).Str("range_id", alloc.RangeID).Msg("no se pudo detener el rango")
			}
		}
		return nil, fmt.Errorf("guardar borrador (folio %d consumido): %w", doc.FolioNumber, err)
	}
	l.afterTransition(ctx, doc, "", entity.StatusDraft, "")
	return l.GetDocument(ctx, doc.ID)
}

// ── Firma ─────────────────────────────────────────────────────────────────────

// SignOutcome resultado de ValidateAndSign.
type SignOutcome struct {
	Document      *entity.Document
	AlreadySigned bool
	Duration      time.Duration
	OverBudget    bool
	Warnings      []string
}

// ValidateAndSign construye el XML, lo valida y lo firma con la credencial indicada.
// Un documento ya firmado devuelve el payload guardado sin volver a firmar. Una validación
// local fallida rechaza el documento; un error de credencial o de firma lo deja en draft.
func (l *Lifecycle) ValidateAndSign(ctx context.Context, documentID, credentialRef string) (*SignOutcome, error) {
	unlock := l.locks.Lock(documentID)
	defer unlock()

	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.SignedPayload != "" {
		return &SignOutcome{Document: doc, AlreadySigned: true}, nil
	}
	if doc.Status != entity.StatusDraft {
		return nil, fmt.Errorf("%w: firmar un documento en estado %s", domain.ErrInvalidTransition, doc.Status)
	}

	company, err := l.companies.GetByID(ctx, doc.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("obtener empresa: %w", err)
	}
	client, err := l.customers.GetByID(ctx, doc.CompanyID, doc.ClientID)
	if err != nil {
		return nil, fmt.Errorf("obtener receptor: %w", err)
	}
	if verr := dte.ValidateDocument(doc, company, client); verr != nil {
		return nil, l.rejectLocal(ctx, doc, verr)
	}

	cred, err := l.credentials.Credential(ctx, credentialRef)
	if err != nil {
		return nil, err
	}
	validation := l.signer.ValidateCredential(cred)
	if !validation.Valid {
		return nil, validation.Err()
	}
	out := &SignOutcome{Warnings: validation.Warnings}
	if len(validation.Warnings) > 0 {
		l.publish(ctx, ports.CredentialExpiring{CredentialRef: credentialRef, DaysRemaining: validation.DaysToExpiry, OccurredAt: l.now()})
	}

	grant, err := l.grantFor(ctx, doc)
	if err != nil {
		return nil, err
	}
	unsigned, err := l.builder.Build(sii.BuildInput{Document: doc, Issuer: company, Client: client, Grant: grant, Timestamp: l.now()})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, l.rejectLocal(ctx, doc, err)
		}
		return nil, fmt.Errorf("%w: construir XML: %v", domain.ErrSignature, err)
	}

	res, err := l.signer.Sign(ctx, unsigned, cred)
	if err != nil {
		l.log.Warn().Err(err).Str("document_id", doc.ID).Msg("firma fallida; el documento queda en draft")
		return nil, err
	}
	signed, unsignedStr := string(res.SignedXML), string(unsigned)
	updated, err := l.transition(ctx, doc, entity.StateChange{
		Expected:        entity.StatusDraft,
		Next:            entity.StatusSigned,
		SignedPayload:   &signed,
		UnsignedPayload: &unsignedStr,
	})
	if err != nil {
		return nil, err
	}
	out.Document = updated
	out.Duration = res.Duration
	out.OverBudget = res.OverBudget
	return out, nil
}

// grantFor CAF del rango del folio, para el timbre (TED).
func (l *Lifecycle) grantFor(ctx context.Context, doc *entity.Document) (*sii.CAF, error) {
	if doc.RangeID == "" {
		return nil, nil
	}
	rg, err := l.folios.GetRange(ctx, doc.RangeID)
	if err != nil {
		return nil, fmt.Errorf("obtener CAF del folio: %w", err)
	}
	if len(rg.RawAuthorization) == 0 {
		return nil, nil
	}
	return sii.ParseCAF(rg.RawAuthorization)
}

func (l *Lifecycle) rejectLocal(ctx context.Context, doc *entity.Document, cause error) error {
	reason := strings.ReplaceAll(cause.Error(), "\n", "; ")
	if _, err := l.transition(ctx, doc, entity.StateChange{Expected: doc.Status, Next: entity.StatusRejected, Reason: &reason}); err != nil {
		l.log.Error().Err(err).Str("document_id", doc.ID).Msg("no se pudo rechazar el documento")
	}
	return cause
}

// ── Envío ─────────────────────────────────────────────────────────────────────

// SubmitOutcome resultado de SubmitToAuthority.
type SubmitOutcome struct {
	Document         *entity.Document
	TrackingID       string
	AlreadySubmitted bool
	Timing           sii.Timing
}

// SubmitToAuthority sube el documento firmado. Si ya existe un trackID no se reenvía. Un error de
// transporte o una respuesta sin TrackID dejan el documento en signed; un rechazo explícito lo pasa
// a rejected. El envío y el paso a sent se guardan juntos.
func (l *Lifecycle) SubmitToAuthority(ctx context.Context, documentID string) (*SubmitOutcome, error) {
	unlock := l.locks.Lock(documentID)
	defer unlock()

	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.AuthorityTrackingID != "" {
		return &SubmitOutcome{Document: doc, TrackingID: doc.AuthorityTrackingID, AlreadySubmitted: true}, nil
	}
	prev, err := l.submissions.GetByDocumentID(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("obtener envío: %w", err)
	}
	if prev != nil {
		if doc.Status != entity.StatusSigned {
			return &SubmitOutcome{Document: doc, TrackingID: prev.TrackingID, AlreadySubmitted: true}, nil
		}
		// Envío registrado sin que el documento avanzara: completar con el trackID guardado.
		updated, err := l.markSent(ctx, doc, prev.TrackingID, prev.AuthorityStatusCode)
		if err != nil {
			return nil, err
		}
		return &SubmitOutcome{Document: updated, TrackingID: prev.TrackingID, AlreadySubmitted: true}, nil
	}
	if doc.Status != entity.StatusSigned || doc.SignedPayload == "" {
		return nil, fmt.Errorf("%w: enviar un documento en estado %s", domain.ErrInvalidTransition, doc.Status)
	}
	if v, ok := l.unsaved.Load(doc.ID); ok {
		// El SII ya entregó un trackID que no se pudo guardar: reintentar solo la persistencia.
		sub := v.(*entity.AuthoritySubmission)
		updated, err := l.recordSubmission(ctx, doc, sub, "")
		if err != nil {
			return nil, err
		}
		return &SubmitOutcome{Document: updated, TrackingID: sub.TrackingID, AlreadySubmitted: true}, nil
	}
	id, err := l.identity(ctx, doc.CompanyID)
	if err != nil {
		return nil, err
	}

	res, err := l.gateway.Submit(ctx, []byte(doc.SignedPayload), id)
	// La respuesta ya llegó: persistirla aunque el llamador cancele.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		var authErr *domain.AuthorityError
		if errors.As(err, &authErr) {
			reason := authErr.Error()
			code := authErr.Code
			if _, terr := l.transition(persistCtx, doc, entity.StateChange{
				Expected: entity.StatusSigned, Next: entity.StatusRejected, Reason: &reason, AuthorityStatus: &code,
			}); terr != nil {
				l.log.Error().Err(terr).Str("document_id", doc.ID).Msg("no se pudo registrar el rechazo del SII")
			}
			return nil, err
		}
		l.log.Warn().Err(err).Str("document_id", doc.ID).Msg("envío fallido; el documento queda firmado para reintentar")
		return nil, err
	}

	sub := &entity.AuthoritySubmission{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		CompanyID:   doc.CompanyID,
		TrackingID:  res.TrackingID,
		Environment: l.gateway.Environment(),
		SubmittedAt: res.Timing.ResponseTime,
		RawResponse: res.Raw,
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = l.now()
	}
	updated, err := l.recordSubmission(persistCtx, doc, sub, res.Status)
	if err != nil {
		return nil, err
	}
	return &SubmitOutcome{Document: updated, TrackingID: sub.TrackingID, Timing: res.Timing}, nil
}

// recordSubmission guarda el envío y el paso a sent en una transacción. Si falla, el trackID queda
// retenido en memoria para que el siguiente intento no vuelva a subir el documento.
func (l *Lifecycle) recordSubmission(ctx context.Context, doc *entity.Document, sub *entity.AuthoritySubmission, status string) (*entity.Document, error) {
	trackID := sub.TrackingID
	ch := entity.StateChange{Expected: entity.StatusSigned, Next: entity.StatusSent, TrackingID: &trackID, AuthorityStatus: &status}
	if err := l.docs.MarkSubmitted(ctx, sub, ch); err != nil {
		l.unsaved.Store(doc.ID, sub)
		l.log.Error().Err(err).Str("document_id", doc.ID).Str("track_id", trackID).Msg("no se pudo registrar el envío")
		return nil, fmt.Errorf("registrar envío %s: %w", trackID, err)
	}
	l.unsaved.Delete(doc.ID)
	return l.afterSent(ctx, doc)
}

// markSent completa signed → sent cuando el envío ya está registrado.
func (l *Lifecycle) markSent(ctx context.Context, doc *entity.Document, trackID, status string) (*entity.Document, error) {
	if err := l.docs.UpdateState(ctx, doc.ID, entity.StateChange{
		Expected: entity.StatusSigned, Next: entity.StatusSent, TrackingID: &trackID, AuthorityStatus: &status,
	}); err != nil {
		return nil, fmt.Errorf("documento %s signed → sent: %w", doc.ID, err)
	}
	return l.afterSent(ctx, doc)
}

func (l *Lifecycle) afterSent(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	l.afterTransition(ctx, doc, entity.StatusSigned, entity.StatusSent, "")
	if err := l.scheduler.SchedulePoll(ctx, doc.ID, l.pollDelay); err != nil {
		l.log.Warn().Err(err).Str("document_id", doc.ID).Msg("no se pudo agendar la consulta de estado")
	}
	return l.GetDocument(ctx, doc.ID)
}

func (l *Lifecycle) identity(ctx context.Context, companyID string) (sii.SenderIdentity, error) {
	company, err := l.companies.GetByID(ctx, companyID)
	if err != nil {
		return sii.SenderIdentity{}, fmt.Errorf("obtener empresa: %w", err)
	}
	if company == nil {
		return sii.SenderIdentity{}, fmt.Errorf("empresa %s: %w", companyID, domain.ErrNotFound)
	}
	sender := l.senderRUT
	if sender == "" {
		sender = company.RUT
	}
	return sii.SenderIdentity{SenderRUT: sender, CompanyRUT: company.RUT}, nil
}

// ── Resolución ────────────────────────────────────────────────────────────────

// StatusOutcome resultado de una consulta o callback de estado.
type StatusOutcome struct {
	Document *entity.Document
	Code     string
	Message  string
	Status   siicat.AuthorityStatus
	Resolved bool
}

// PollStatus consulta el estado del envío y resuelve el documento si el SII ya decidió.
func (l *Lifecycle) PollStatus(ctx context.Context, documentID string) (*StatusOutcome, error) {
	unlock := l.locks.Lock(documentID)
	defer unlock()

	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.StatusAccepted, entity.StatusRejected:
		return &StatusOutcome{Document: doc, Code: doc.AuthorityStatus, Resolved: true}, nil
	case entity.StatusSent:
	default:
		return nil, fmt.Errorf("%w: consultar estado de un documento en estado %s", domain.ErrInvalidTransition, doc.Status)
	}
	if doc.AuthorityTrackingID == "" {
		return nil, fmt.Errorf("%w: documento %s sin trackID", domain.ErrInvalidTransition, doc.ID)
	}
	id, err := l.identity(ctx, doc.CompanyID)
	if err != nil {
		return nil, err
	}
	res, err := l.gateway.QueryStatus(ctx, doc.AuthorityTrackingID, id)
	if err != nil {
		return nil, err
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := l.submissions.RecordPoll(persistCtx, doc.ID, res.Code, res.Message, res.Raw, l.now()); err != nil {
		l.log.Warn().Err(err).Str("document_id", doc.ID).Msg("no se pudo registrar la consulta")
	}
	return l.resolve(persistCtx, doc, res.Code, res.Message, res.Status)
}

// HandleAuthorityCallback resuelve un documento enviado a partir de una notificación del SII.
func (l *Lifecycle) HandleAuthorityCallback(ctx context.Context, trackingID, statusCode, message string) (*StatusOutcome, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, fmt.Errorf("%w: trackID requerido", domain.ErrValidation)
	}
	found, err := l.FindByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	unlock := l.locks.Lock(found.ID)
	defer unlock()

	doc, err := l.GetDocument(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if doc.Status != entity.StatusSent {
		return &StatusOutcome{Document: doc, Code: doc.AuthorityStatus, Resolved: doc.Status.IsTerminal()}, nil
	}
	if err := l.submissions.RecordPoll(ctx, doc.ID, statusCode, message, "", l.now()); err != nil {
		l.log.Warn().Err(err).Str("document_id", doc.ID).Msg("no se pudo registrar el callback")
	}
	return l.resolve(ctx, doc, statusCode, message, siicat.ResolveAuthorityStatus(statusCode))
}

func (l *Lifecycle) resolve(ctx context.Context, doc *entity.Document, code, message string, status siicat.AuthorityStatus) (*StatusOutcome, error) {
	out := &StatusOutcome{Document: doc, Code: code, Message: message, Status: status}
	var next entity.DocumentStatus
	switch status {
	case siicat.AuthorityAccepted:
		next = entity.StatusAccepted
	case siicat.AuthorityRejected:
		next = entity.StatusRejected
	default:
		l.log.Debug().Str("document_id", doc.ID).Str("code", code).Msg("envío aún en proceso")
		return out, nil
	}
	ch := entity.StateChange{Expected: entity.StatusSent, Next: next, AuthorityStatus: &code}
	if next == entity.StatusRejected {
		reason := strings.TrimSpace(code + " " + message)
		ch.Reason = &reason
	}
	updated, err := l.transition(ctx, doc, ch)
	if err != nil {
		return nil, err
	}
	out.Document = updated
	out.Resolved = true
	return out, nil
}

// AckOutcome acuse de recibo almacenado.
type AckOutcome struct {
	DocumentID string
	TrackingID string
	Raw        string
}

// FetchAcknowledgment descarga y guarda el acuse de recibo de un envío ya resuelto.
func (l *Lifecycle) FetchAcknowledgment(ctx context.Context, documentID string) (*AckOutcome, error) {
	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.AuthorityTrackingID == "" || (doc.Status != entity.StatusAccepted && doc.Status != entity.StatusRejected) {
		return nil, fmt.Errorf("%w: el envío del documento %s aún no se resuelve", domain.ErrInvalidTransition, doc.ID)
	}
	id, err := l.identity(ctx, doc.CompanyID)
	if err != nil {
		return nil, err
	}
	res, err := l.gateway.FetchAcknowledgment(ctx, doc.AuthorityTrackingID, id)
	if err != nil {
		return nil, err
	}
	if err := l.submissions.SaveAcknowledgment(context.WithoutCancel(ctx), doc.ID, res.Raw, l.now()); err != nil {
		return nil, fmt.Errorf("guardar acuse: %w", err)
	}
	return &AckOutcome{DocumentID: doc.ID, TrackingID: doc.AuthorityTrackingID, Raw: res.Raw}, nil
}

// ── Rechazo y anulación ───────────────────────────────────────────────────────

// RejectDocument rechaza el documento por un error irrecuperable. El folio no se libera.
func (l *Lifecycle) RejectDocument(ctx context.Context, documentID, reason string) (*entity.Document, error) {
	return l.close(ctx, documentID, entity.StatusRejected, reason)
}

// VoidDocument anula un documento que nunca llegó al SII (draft o signed). El folio queda consumido.
func (l *Lifecycle) VoidDocument(ctx context.Context, documentID, reason string) (*entity.Document, error) {
	return l.close(ctx, documentID, entity.StatusVoided, reason)
}

func (l *Lifecycle) close(ctx context.Context, documentID string, next entity.DocumentStatus, reason string) (*entity.Document, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: motivo requerido", domain.ErrValidation)
	}
	unlock := l.locks.Lock(documentID)
	defer unlock()

	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return l.transition(ctx, doc, entity.StateChange{Expected: doc.Status, Next: next, Reason: &reason})
}

// GetDocument devuelve el documento o domain.ErrNotFound.
func (l *Lifecycle) GetDocument(ctx context.Context, documentID string) (*entity.Document, error) {
	doc, err := l.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("documento %s: %w", documentID, domain.ErrNotFound)
	}
	return doc, nil
}

// ListDocuments página de documentos de la empresa. status vacío = todos.
func (l *Lifecycle) ListDocuments(ctx context.Context, companyID string, status entity.DocumentStatus, limit, offset int) ([]*entity.Document, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: estado %q desconocido", domain.ErrValidation, status)
	}
	return l.docs.ListByCompany(ctx, companyID, status, limit, offset)
}

// FindByTrackingID documento enviado con ese trackID o domain.ErrNotFound.
func (l *Lifecycle) FindByTrackingID(ctx context.Context, trackingID string) (*entity.Document, error) {
	doc, err := l.docs.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("trackID %s: %w", trackingID, domain.ErrNotFound)
	}
	return doc, nil
}

// ── Barrido de pendientes ─────────────────────────────────────────────────────

// PollSummary resultado de PollPending.
type PollSummary struct {
	Checked  int
	Resolved int
	Failed   int
}

// PollPending consulta hasta limit documentos enviados con a lo más PollConcurrency llamadas en
// paralelo. Un fallo individual se registra y no detiene el barrido.
func (l *Lifecycle) PollPending(ctx context.Context, limit int) (PollSummary, error) {
	pending, err := l.docs.ListByStatus(ctx, entity.StatusSent, limit)
	if err != nil {
		return PollSummary{}, fmt.Errorf("listar documentos enviados: %w", err)
	}
	var resolved, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(PollConcurrency)
	for _, doc := range pending {
		id := doc.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out, err := l.PollStatus(gctx, id)
			if err != nil {
				failed.Add(1)
				l.log.Warn().Err(err).Str("document_id", id).Msg("consulta de estado fallida")
				return nil
			}
			if out.Resolved {
				resolved.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return PollSummary{Checked: len(pending), Resolved: int(resolved.Load()), Failed: int(failed.Load())}, err
}

// ── Transiciones ──────────────────────────────────────────────────────────────

// transition aplica el cambio con compare-and-set y emite métricas, log y evento.
func (l *Lifecycle) transition(ctx context.Context, doc *entity.Document, ch entity.StateChange) (*entity.Document, error) {
	if !entity.CanTransition(ch.Expected, ch.Next) {
		return nil, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, ch.Expected, ch.Next)
	}
	if err := l.docs.UpdateState(ctx, doc.ID, ch); err != nil {
		return nil, fmt.Errorf("documento %s %s → %s: %w", doc.ID, ch.Expected, ch.Next, err)
	}
	reason := ""
	if ch.Reason != nil {
		reason = *ch.Reason
	}
	l.afterTransition(ctx, doc, ch.Expected, ch.Next, reason)
	return l.GetDocument(ctx, doc.ID)
}

func (l *Lifecycle) afterTransition(ctx context.Context, doc *entity.Document, from, to entity.DocumentStatus, reason string) {
	l.metrics.IncTransition(string(from), string(to))
	l.log.Info().
		Str("document_id", doc.ID).
		Str("company_id", doc.CompanyID).
		Int("document_type", doc.DocumentTypeCode).
		Int64("folio", doc.FolioNumber).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("transición de estado")
	l.publish(ctx, ports.DocumentStateChanged{
		DocumentID:     doc.ID,
		CompanyID:      doc.CompanyID,
		PreviousStatus: from,
		NewStatus:      to,
		Reason:         reason,
		OccurredAt:     l.now(),
	})
}

func (l *Lifecycle) publish(ctx context.Context, ev ports.Event) {
	if err := l.events.Publish(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("event", ev.EventName()).Msg("no se pudo publicar el evento")
	}
}
