package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus estado del ciclo de vida de un DTE.
type DocumentStatus string

// Estados del ciclo de vida. Solo billing.Lifecycle los modifica.
const (
	StatusDraft    DocumentStatus = "draft"    // folio asignado, sin firmar
	StatusSigned   DocumentStatus = "signed"   // XML firmado almacenado
	StatusSent     DocumentStatus = "sent"     // el SII recibió el envío (trackID), resultado pendiente
	StatusAccepted DocumentStatus = "accepted" // aceptado por el SII
	StatusRejected DocumentStatus = "rejected" // rechazado (local o SII); el folio no se libera
	StatusVoided   DocumentStatus = "voided"   // anulado antes de llegar al SII; el folio no se libera
)

var transitions = map[DocumentStatus][]DocumentStatus{
	StatusDraft:  {StatusSigned, StatusRejected, StatusVoided},
	StatusSigned: {StatusSent, StatusRejected, StatusVoided},
	StatusSent:   {StatusAccepted, StatusRejected},
}

// CanTransition indica si el cambio from → to está permitido.
func CanTransition(from, to DocumentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal indica un estado sin salidas.
func (s DocumentStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsValid indica si es uno de los estados conocidos.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSigned, StatusSent, StatusAccepted, StatusRejected, StatusVoided:
		return true
	}
	return false
}

// Document representa la cabecera de un DTE y sus líneas.
type Document struct {
	ID                  string
	CompanyID           string
	ClientID            string
	DocumentTypeCode    int
	FolioNumber         int64
	RangeID             string // CAF del que se tomó el folio
	IssueDate           time.Time
	Items               []DocumentItem
	NetAmount           decimal.Decimal // MntNeto (líneas afectas)
	ExemptAmount        decimal.Decimal // MntExe
	TaxAmount           decimal.Decimal // IVA
	TotalAmount         decimal.Decimal // MntTotal
	Status              DocumentStatus
	UnsignedPayload     string
	SignedPayload       string
	AuthorityTrackingID string
	AuthorityStatus     string // código SII (EPR, RCH, ...)
	StatusReason        string // motivo del rechazo o anulación
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DocumentItem representa una línea de detalle. Net/Tax/Total se calculan en dte.ComputeAmounts.
type DocumentItem struct {
	LineNumber        int
	Description       string
	Quantity          decimal.Decimal
	UnitPrice         decimal.Decimal
	TaxClassification string // sii.TaxAfecto | sii.TaxExento
	Net               decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
}

// StateChange cambio de estado a persistir con compare-and-set sobre Expected.
type StateChange struct {
	Expected        DocumentStatus
	Next            DocumentStatus
	SignedPayload   *string
	UnsignedPayload *string
	TrackingID      *string
	AuthorityStatus *string
	Reason          *string
}
