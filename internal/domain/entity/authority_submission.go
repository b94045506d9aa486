package entity

import "time"

// AuthoritySubmission registro del envío de un documento al SII. Uno a uno con Document
// desde que sale de signed; el TrackingID impide reenvíos duplicados.
type AuthoritySubmission struct {
	ID                  string
	DocumentID          string
	CompanyID           string
	TrackingID          string
	Environment         string // certificacion | produccion
	SubmittedAt         time.Time
	LastPolledAt        *time.Time
	AuthorityStatusCode string
	AuthorityMessage    string
	RawResponse         string
	RawAcknowledgment   string
	AcknowledgedAt      *time.Time
}
