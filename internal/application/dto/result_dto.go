package dto

import (
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// OperationError error esperado de negocio dentro de un resultado.
type OperationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorsFrom convierte err en la lista de errores del resultado. Los errores de validación
// agregados con errors.Join se expanden, uno por detalle.
func ErrorsFrom(err error) []OperationError {
	if err == nil {
		return nil
	}
	kind := domain.KindOf(err)
	if joined, ok := err.(interface{ Unwrap() []error }); ok && kind == domain.KindValidation {
		var out []OperationError
		for _, e := range joined.Unwrap() {
			if e == nil || e == domain.ErrValidation {
				continue
			}
			for _, oe := range ErrorsFrom(e) {
				if oe.Kind == domain.KindInternal {
					oe.Kind = domain.KindValidation
				}
				out = append(out, oe)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []OperationError{{Kind: kind, Message: err.Error()}}
}

// DocumentResult resultado de createDraftDocument y de las operaciones de estado.
type DocumentResult struct {
	OK       bool              `json:"ok"`
	Document *DocumentResponse `json:"document,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []OperationError  `json:"errors,omitempty"`
}

// NewDocumentResult arma el resultado desde (documento, error).
func NewDocumentResult(d *entity.Document, err error) DocumentResult {
	return DocumentResult{OK: err == nil, Document: NewDocumentResponse(d), Errors: ErrorsFrom(err)}
}

// SigningResult resultado de validateAndSign.
type SigningResult struct {
	OK            bool              `json:"ok"`
	Document      *DocumentResponse `json:"document,omitempty"`
	AlreadySigned bool              `json:"already_signed"`
	DurationMs    int64             `json:"duration_ms"`
	OverBudget    bool              `json:"over_budget"`
	Warnings      []string          `json:"warnings,omitempty"`
	Errors        []OperationError  `json:"errors,omitempty"`
}

// SubmissionResult resultado de submitToAuthority.
type SubmissionResult struct {
	OK               bool              `json:"ok"`
	Document         *DocumentResponse `json:"document,omitempty"`
	TrackingID       string            `json:"tracking_id,omitempty"`
	AlreadySubmitted bool              `json:"already_submitted"`
	Timing           *TimingResponse   `json:"timing,omitempty"`
	Errors           []OperationError  `json:"errors,omitempty"`
}

// TimingResponse tiempos de la llamada al SII.
type TimingResponse struct {
	RequestTime  time.Time `json:"request_time"`
	ResponseTime time.Time `json:"response_time"`
	TotalMs      int64     `json:"total_ms"`
	Slow         bool      `json:"slow"`
	Attempts     int       `json:"attempts"`
}

// StatusResult resultado de una consulta o callback de estado.
type StatusResult struct {
	OK         bool              `json:"ok"`
	Document   *DocumentResponse `json:"document,omitempty"`
	StatusCode string            `json:"status_code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Resolved   bool              `json:"resolved"`
	Errors     []OperationError  `json:"errors,omitempty"`
}

// RangeResponse rango de folios en respuestas (sin el XML del CAF).
type RangeResponse struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	DocumentTypeCode int       `json:"document_type"`
	FromNumber       int64     `json:"from"`
	ToNumber         int64     `json:"to"`
	CurrentNumber    int64     `json:"current"`
	Remaining        int64     `json:"remaining"`
	AuthorizedAt     time.Time `json:"authorized_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	Active           bool      `json:"active"`
	Halted           bool      `json:"halted"`
	HaltReason       string    `json:"halt_reason,omitempty"`
	Alert            dte.Alert `json:"alert"`
}

// NewRangeResponse convierte la entidad.
func NewRangeResponse(r *entity.AuthorizedRange) *RangeResponse {
	if r == nil {
		return nil
	}
	return &RangeResponse{
		ID:               r.ID,
		CompanyID:        r.CompanyID,
		DocumentTypeCode: r.DocumentTypeCode,
		FromNumber:       r.FromNumber,
		ToNumber:         r.ToNumber,
		CurrentNumber:    r.CurrentNumber,
		Remaining:        r.Remaining(),
		AuthorizedAt:     r.AuthorizedAt,
		ExpiresAt:        r.ExpiresAt,
		Active:           r.Active,
		Halted:           r.Halted,
		HaltReason:       r.HaltReason,
		Alert:            dte.RemainingAlert(r.Remaining()),
	}
}

// RangeImportResult resultado de importAuthorizedRange.
type RangeImportResult struct {
	OK       bool             `json:"ok"`
	Range    *RangeResponse   `json:"range,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Errors   []OperationError `json:"errors,omitempty"`
}

// FolioResult resultado de allocateNextFolio.
type FolioResult struct {
	OK          bool             `json:"ok"`
	FolioNumber int64            `json:"folio,omitempty"`
	Remaining   int64            `json:"remaining"`
	RangeID     string           `json:"range_id,omitempty"`
	Alert       *dte.Alert       `json:"alert,omitempty"`
	Errors      []OperationError `json:"errors,omitempty"`
}

// SequenceAuditResult resultado de la auditoría de folios.
type SequenceAuditResult struct {
	OK     bool                `json:"ok"`
	Report *dte.SequenceReport `json:"report,omitempty"`
	Errors []OperationError    `json:"errors,omitempty"`
}
