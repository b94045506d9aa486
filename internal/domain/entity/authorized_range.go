package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
)

// AuthorizedRange representa un CAF (Código de Autorización de Folios) entregado por el SII.
// Autoriza un bloque contiguo de folios [FromNumber, ToNumber] para un tipo de DTE.
// CurrentNumber es el último folio emitido; FromNumber-1 significa que no se ha emitido ninguno.
// Nunca se elimina: al agotarse o retirarse queda con Active=false.
type AuthorizedRange struct {
	ID               string
	CompanyID        string
	DocumentTypeCode int
	FromNumber       int64
	ToNumber         int64
	CurrentNumber    int64
	IssuerRUT        string // RE del CAF
	IssuerName       string // RS del CAF
	AuthorizedAt     time.Time
	ExpiresAt        time.Time
	RawAuthorization []byte // XML del CAF tal como lo entregó el SII
	Active           bool
	Halted           bool // detenido por folio duplicado, requiere revisión manual
	HaltReason       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RangeParams datos validados de un CAF ya parseado.
type RangeParams struct {
	ID               string
	CompanyID        string
	DocumentTypeCode int
	FromNumber       int64
	ToNumber         int64
	IssuerRUT        string
	IssuerName       string
	AuthorizedAt     time.Time
	ExpiresAt        time.Time
	RawAuthorization []byte
}

// NewAuthorizedRange construye un rango activo sin folios emitidos.
// Solo valida la forma; las reglas del SII (tipo, RUT, vigencia, superposición) las aplica folio.Service.
func NewAuthorizedRange(p RangeParams) (*AuthorizedRange, error) {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("id requerido"))
	}
	if p.CompanyID == "" {
		errs = append(errs, errors.New("company_id requerido"))
	}
	if p.FromNumber <= 0 {
		errs = append(errs, fmt.Errorf("folio inicial debe ser positivo (recibido %d)", p.FromNumber))
	}
	if p.FromNumber >= p.ToNumber {
		errs = append(errs, fmt.Errorf("folio inicial %d debe ser menor que el final %d", p.FromNumber, p.ToNumber))
	}
	if p.ExpiresAt.IsZero() || p.AuthorizedAt.IsZero() {
		errs = append(errs, errors.New("fechas de autorización y vencimiento requeridas"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return &AuthorizedRange{
		ID:               p.ID,
		CompanyID:        p.CompanyID,
		DocumentTypeCode: p.DocumentTypeCode,
		FromNumber:       p.FromNumber,
		ToNumber:         p.ToNumber,
		CurrentNumber:    p.FromNumber - 1,
		IssuerRUT:        p.IssuerRUT,
		IssuerName:       p.IssuerName,
		AuthorizedAt:     p.AuthorizedAt,
		ExpiresAt:        p.ExpiresAt,
		RawAuthorization: p.RawAuthorization,
		Active:           true,
	}, nil
}

// Remaining folios disponibles.
func (r *AuthorizedRange) Remaining() int64 {
	return r.ToNumber - r.CurrentNumber
}

// Exhausted indica que ya se emitió el último folio.
func (r *AuthorizedRange) Exhausted() bool {
	return r.CurrentNumber >= r.ToNumber
}

// IsExpired indica si el CAF venció en el instante dado.
func (r *AuthorizedRange) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Usable indica si el rango puede entregar folios ahora.
func (r *AuthorizedRange) Usable(now time.Time) bool {
	return r.Active && !r.Halted && !r.Exhausted() && !r.IsExpired(now)
}

// Covers indica si el folio pertenece al rango.
func (r *AuthorizedRange) Covers(folio int64) bool {
	return folio >= r.FromNumber && folio <= r.ToNumber
}

// Overlaps compara intervalos por intersección, no solo por bordes iguales.
func (r *AuthorizedRange) Overlaps(from, to int64) bool {
	return from <= r.ToNumber && r.FromNumber <= to
}
