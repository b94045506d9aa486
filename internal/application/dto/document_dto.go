package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// CreateDocumentRequest body para POST /api/documents.
type CreateDocumentRequest struct {
	ClientID         string              `json:"client_id"`
	DocumentTypeCode int                 `json:"document_type"`
	IssueDate        string              `json:"issue_date,omitempty"` // AAAA-MM-DD; vacío = hoy
	Items            []DocumentItemInput `json:"items"`
}

// DocumentItemInput línea de detalle (cantidad, precio unitario y clasificación afecto|exento).
type DocumentItemInput struct {
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TaxClassification string          `json:"tax_classification"`
}

// SignRequest body para POST /api/documents/:id/sign.
type SignRequest struct {
	CredentialRef string `json:"credential_ref"`
}

// ReasonRequest body para anular o rechazar.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CallbackRequest notificación del resultado del SII para un trackID.
type CallbackRequest struct {
	TrackingID string `json:"tracking_id"`
	StatusCode string `json:"status_code"`
	Message    string `json:"message"`
}

// DocumentResponse documento en respuestas (sin payloads XML).
type DocumentResponse struct {
	ID                  string                 `json:"id"`
	CompanyID           string                 `json:"company_id"`
	ClientID            string                 `json:"client_id"`
	DocumentTypeCode    int                    `json:"document_type"`
	FolioNumber         int64                  `json:"folio"`
	IssueDate           string                 `json:"issue_date"`
	NetAmount           decimal.Decimal        `json:"net_amount"`
	ExemptAmount        decimal.Decimal        `json:"exempt_amount"`
	TaxAmount           decimal.Decimal        `json:"tax_amount"`
	TotalAmount         decimal.Decimal        `json:"total_amount"`
	Status              string                 `json:"status"`
	AuthorityTrackingID string                 `json:"authority_tracking_id,omitempty"`
	AuthorityStatus     string                 `json:"authority_status,omitempty"`
	StatusReason        string                 `json:"status_reason,omitempty"`
	Signed              bool                   `json:"signed"`
	Items               []DocumentItemResponse `json:"items"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// DocumentListResponse página de documentos.
type DocumentListResponse struct {
	Items []*DocumentResponse `json:"items"`
	Page  PageResponse        `json:"page"`
}

// DocumentItemResponse línea con montos calculados.
type DocumentItemResponse struct {
	LineNumber        int             `json:"line"`
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TaxClassification string          `json:"tax_classification"`
	Net               decimal.Decimal `json:"net"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
}

// NewDocumentResponse convierte la entidad.
func NewDocumentResponse(d *entity.Document) *DocumentResponse {
	if d == nil {
		return nil
	}
	items := make([]DocumentItemResponse, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, DocumentItemResponse{
			LineNumber:        it.LineNumber,
			Description:       it.Description,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			TaxClassification: it.TaxClassification,
			Net:               it.Net,
			Tax:               it.Tax,
			Total:             it.Total,
		})
	}
	return &DocumentResponse{
		ID:                  d.ID,
		CompanyID:           d.CompanyID,
		ClientID:            d.ClientID,
		DocumentTypeCode:    d.DocumentTypeCode,
		FolioNumber:         d.FolioNumber,
		IssueDate:           d.IssueDate.Format("2006-01-02"),
		NetAmount:           d.NetAmount,
		ExemptAmount:        d.ExemptAmount,
		TaxAmount:           d.TaxAmount,
		TotalAmount:         d.TotalAmount,
		Status:              string(d.Status),
		AuthorityTrackingID: d.AuthorityTrackingID,
		AuthorityStatus:     d.AuthorityStatus,
		StatusReason:        d.StatusReason,
		Signed:              d.SignedPayload != "",
		Items:               items,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}
