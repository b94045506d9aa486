package ports

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// Nombres de eventos publicados hacia la capa de notificaciones.
const (
	EventDocumentStateChanged = "document.state_changed"
	EventFolioAlert           = "folio.alert"
	EventCredentialExpiring   = "credential.expiring"
)

// Event mensaje saliente. El núcleo no sabe quién lo consume.
type Event interface {
	EventName() string
}

// EventPublisher puerto de salida para eventos (Redis Pub/Sub, log).
// Un fallo al publicar se registra pero nunca revierte la operación que lo originó.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// DocumentStateChanged se emite en cada transición confirmada.
type DocumentStateChanged struct {
	DocumentID     string                `json:"documentId"`
	CompanyID      string                `json:"companyId"`
	PreviousStatus entity.DocumentStatus `json:"previousStatus"`
	NewStatus      entity.DocumentStatus `json:"newStatus"`
	Reason         string                `json:"reason,omitempty"`
	OccurredAt     time.Time             `json:"occurredAt"`
}

func (DocumentStateChanged) EventName() string { return EventDocumentStateChanged }

// FolioAlert se emite tras cada asignación de folio y al detener un rango.
type FolioAlert struct {
	CompanyID        string         `json:"companyId"`
	DocumentTypeCode int            `json:"documentTypeCode"`
	RangeID          string         `json:"rangeId"`
	Remaining        int64          `json:"remaining"`
	Severity         dte.AlertLevel `json:"severity"`
	OccurredAt       time.Time      `json:"occurredAt"`
}

func (FolioAlert) EventName() string { return EventFolioAlert }

// CredentialExpiring certificado de firma con 30 días o menos de vigencia.
type CredentialExpiring struct {
	CredentialRef string    `json:"credentialRef"`
	DaysRemaining int       `json:"daysRemaining"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func (CredentialExpiring) EventName() string { return EventCredentialExpiring }

// NopPublisher descarta los eventos.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
