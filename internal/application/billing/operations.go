package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

// Operations expone las operaciones del pipeline como objetos de resultado: los errores
// esperados de negocio viajan en Errors y no como error de Go.
type Operations struct {
	lifecycle *Lifecycle
	folios    *folio.Service
}

// NewOperations crea la fachada.
func NewOperations(l *Lifecycle, f *folio.Service) *Operations {
	return &Operations{lifecycle: l, folios: f}
}

// Lifecycle orquestador subyacente.
func (o *Operations) Lifecycle() *Lifecycle { return o.lifecycle }

// ImportAuthorizedRange importa un CAF.
// Un CAF otorgado a otro RUT se rechaza con domain.ErrForbidden.
func (o *Operations) ImportAuthorizedRange(ctx context.Context, companyID string, raw []byte) dto.RangeImportResult {
	if err := o.checkGrantIssuer(ctx, companyID, raw); err != nil {
		return dto.RangeImportResult{Errors: dto.ErrorsFrom(err)}
	}
	res, err := o.folios.ImportRange(ctx, raw, companyID)
	if err != nil {
		return dto.RangeImportResult{Errors: dto.ErrorsFrom(err)}
	}
	return dto.RangeImportResult{OK: true, Range: dto.NewRangeResponse(res.Range), Warnings: res.Warnings}
}

func (o *Operations) checkGrantIssuer(ctx context.Context, companyID string, raw []byte) error {
	grant, err := sii.ParseCAF(raw)
	if err != nil {
		return err
	}
	company, err := o.lifecycle.companies.GetByID(ctx, companyID)
	if err != nil {
		return err
	}
	if company == nil {
		return fmt.Errorf("empresa %s: %w", companyID, domain.ErrNotFound)
	}
	if !strings.EqualFold(strings.TrimSpace(grant.IssuerRUT), strings.TrimSpace(company.RUT)) {
		return fmt.Errorf("%w: el CAF fue otorgado a %s, no a %s", domain.ErrForbidden, grant.IssuerRUT, company.RUT)
	}
	return nil
}

// AllocateNextFolio asigna un folio sin crear documento (uso administrativo y pruebas).
func (o *Operations) AllocateNextFolio(ctx context.Context, companyID string, docType int) dto.FolioResult {
	a, err := o.folios.AllocateNext(ctx, companyID, docType)
	if err != nil {
		return dto.FolioResult{Errors: dto.ErrorsFrom(err)}
	}
	alert := a.Alert
	return dto.FolioResult{OK: true, FolioNumber: a.FolioNumber, Remaining: a.Remaining, RangeID: a.RangeID, Alert: &alert}
}

// AuditSequence revisa duplicados y huecos de un tipo de documento.
func (o *Operations) AuditSequence(ctx context.Context, companyID string, docType int) dto.SequenceAuditResult {
	rep, err := o.folios.AuditSequence(ctx, companyID, docType)
	if err != nil {
		return dto.SequenceAuditResult{Errors: dto.ErrorsFrom(err)}
	}
	return dto.SequenceAuditResult{OK: !rep.HasDuplicates(), Report: rep}
}

// CreateDraftDocument crea el borrador a partir del request HTTP.
func (o *Operations) CreateDraftDocument(ctx context.Context, companyID string, req dto.CreateDocumentRequest) dto.DocumentResult {
	in := CreateDocumentInput{
		CompanyID:        companyID,
		ClientID:         req.ClientID,
		DocumentTypeCode: req.DocumentTypeCode,
	}
	if req.IssueDate != "" {
		d, err := time.Parse("2006-01-02", req.IssueDate)
		if err != nil {
			return dto.DocumentResult{Errors: dto.ErrorsFrom(fmt.Errorf("%w: issue_date %q no es AAAA-MM-DD", domain.ErrValidation, req.IssueDate))}
		}
		in.IssueDate = d
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{
			Description:       it.Description,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			TaxClassification: it.TaxClassification,
		})
	}
	doc, err := o.lifecycle.CreateDraftDocument(ctx, in)
	return dto.NewDocumentResult(doc, err)
}

// ValidateAndSign firma el documento.
func (o *Operations) ValidateAndSign(ctx context.Context, documentID, credentialRef string) dto.SigningResult {
	out, err := o.lifecycle.ValidateAndSign(ctx, documentID, credentialRef)
	if err != nil {
		return dto.SigningResult{Document: o.current(ctx, documentID), Errors: dto.ErrorsFrom(err)}
	}
	return dto.SigningResult{
		OK:            true,
		Document:      dto.NewDocumentResponse(out.Document),
		AlreadySigned: out.AlreadySigned,
		DurationMs:    out.Duration.Milliseconds(),
		OverBudget:    out.OverBudget,
		Warnings:      out.Warnings,
	}
}

// SubmitToAuthority envía el documento firmado al SII.
func (o *Operations) SubmitToAuthority(ctx context.Context, documentID string) dto.SubmissionResult {
	out, err := o.lifecycle.SubmitToAuthority(ctx, documentID)
	if err != nil {
		return dto.SubmissionResult{Document: o.current(ctx, documentID), Errors: dto.ErrorsFrom(err)}
	}
	res := dto.SubmissionResult{
		OK:               true,
		Document:         dto.NewDocumentResponse(out.Document),
		TrackingID:       out.TrackingID,
		AlreadySubmitted: out.AlreadySubmitted,
	}
	if !out.AlreadySubmitted {
		res.Timing = timingResponse(out.Timing)
	}
	return res
}

// PollStatus consulta el estado del envío.
func (o *Operations) PollStatus(ctx context.Context, documentID string) dto.StatusResult {
	out, err := o.lifecycle.PollStatus(ctx, documentID)
	return statusResult(out, err)
}

// HandleAuthorityCallback aplica una notificación del SII.
func (o *Operations) HandleAuthorityCallback(ctx context.Context, req dto.CallbackRequest) dto.StatusResult {
	out, err := o.lifecycle.HandleAuthorityCallback(ctx, req.TrackingID, req.StatusCode, req.Message)
	return statusResult(out, err)
}

// RejectDocument rechaza el documento.
func (o *Operations) RejectDocument(ctx context.Context, documentID, reason string) dto.DocumentResult {
	doc, err := o.lifecycle.RejectDocument(ctx, documentID, reason)
	return dto.NewDocumentResult(doc, err)
}

// VoidDocument anula el documento.
func (o *Operations) VoidDocument(ctx context.Context, documentID, reason string) dto.DocumentResult {
	doc, err := o.lifecycle.VoidDocument(ctx, documentID, reason)
	return dto.NewDocumentResult(doc, err)
}

// ListDocuments listado paginado para GET /api/documents.
func (o *Operations) ListDocuments(ctx context.Context, companyID, status string, page dto.PageRequest) (*dto.DocumentListResponse, error) {
	page.DefaultPage()
	docs, err := o.lifecycle.ListDocuments(ctx, companyID, entity.DocumentStatus(status), page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	items := make([]*dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		items = append(items, dto.NewDocumentResponse(d))
	}
	return &dto.DocumentListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	}, nil
}

// current estado actual para acompañar un resultado fallido; nil si no existe.
func (o *Operations) current(ctx context.Context, documentID string) *dto.DocumentResponse {
	doc, err := o.lifecycle.GetDocument(ctx, documentID)
	if err != nil {
		return nil
	}
	return dto.NewDocumentResponse(doc)
}

func statusResult(out *StatusOutcome, err error) dto.StatusResult {
	if err != nil {
		return dto.StatusResult{Errors: dto.ErrorsFrom(err)}
	}
	return dto.StatusResult{
		OK:         true,
		Document:   dto.NewDocumentResponse(out.Document),
		StatusCode: out.Code,
		Message:    out.Message,
		Resolved:   out.Resolved,
	}
}

func timingResponse(t sii.Timing) *dto.TimingResponse {
	return &dto.TimingResponse{
		RequestTime:  t.RequestTime,
		ResponseTime: t.ResponseTime,
		TotalMs:      t.Total.Milliseconds(),
		Slow:         t.Slow,
		Attempts:     t.Attempts,
	}
}
