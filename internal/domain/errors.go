package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound  = errors.New("recurso no encontrado")
	ErrForbidden = errors.New("acceso denegado")
	ErrConflict  = errors.New("conflicto con el estado actual")

	// ── Emisión de DTE ──

	ErrValidation        = errors.New("error de validación")
	ErrRangeOverlap      = errors.New("el rango de folios se superpone con un rango activo")
	ErrRangeExhausted    = errors.New("rango de folios agotado")
	ErrRangeExpired      = errors.New("rango de folios vencido")
	ErrNoActiveRange     = errors.New("no existe un rango de folios activo")
	ErrSequenceIntegrity = errors.New("folio duplicado detectado: asignación detenida")
	ErrInvalidTransition = errors.New("transición de estado no permitida")

	ErrCredential            = errors.New("credencial de firma inválida")
	ErrCredentialExpired     = fmt.Errorf("%w: certificado vencido", ErrCredential)
	ErrCredentialNotYetValid = fmt.Errorf("%w: certificado aún no vigente", ErrCredential)
	ErrWeakKey               = fmt.Errorf("%w: llave menor a 2048 bits", ErrCredential)
	ErrKeyMismatch           = fmt.Errorf("%w: la llave privada no corresponde al certificado", ErrCredential)
	ErrInvalidCredential     = fmt.Errorf("%w: contenedor o contraseña incorrectos", ErrCredential)

	ErrSignature         = errors.New("error al firmar el documento")
	ErrTransport         = errors.New("error de transporte con el SII")
	ErrAuthorityBusiness = errors.New("el SII rechazó la solicitud")
	// ErrUnconfirmedSubmission respuesta 200 que no confirma la recepción (sin TrackID ni rechazo
	// explícito). El documento sigue firmado y se puede reenviar.
	ErrUnconfirmedSubmission = errors.New("el SII no confirmó la recepción del envío")
)

// TransportError detalla un fallo de red o HTTP reintentable que agotó los reintentos.
type TransportError struct {
	Attempts   int
	LastStatus int // 0 si no hubo respuesta HTTP
	Err        error
}

func (e *TransportError) Error() string {
	if e.LastStatus > 0 {
		return fmt.Sprintf("envío fallido tras %d intentos (HTTP %d), reintentar más tarde: %v", e.Attempts, e.LastStatus, e.Err)
	}
	return fmt.Sprintf("envío fallido tras %d intentos, reintentar más tarde: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// AuthorityError rechazo de negocio del SII: 4xx distinto de 408/429, SOAP Fault o STATUS distinto de 0.
type AuthorityError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *AuthorityError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("SII rechazó (HTTP %d, %s): %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("SII rechazó (HTTP %d): %s", e.HTTPStatus, e.Message)
}

func (e *AuthorityError) Unwrap() error { return ErrAuthorityBusiness }

// Códigos estables para listas de errores en los resultados.
const (
	KindValidation            = "validation"
	KindRangeOverlap          = "range_overlap"
	KindRangeExhausted        = "range_exhausted"
	KindRangeExpired          = "range_expired"
	KindNoActiveRange         = "no_active_range"
	KindCredential            = "credential"
	KindSignature             = "signature"
	KindTransport             = "transport"
	KindAuthorityBusiness     = "authority_business"
	KindUnconfirmedSubmission = "unconfirmed_submission"
	KindSequenceIntegrity     = "sequence_integrity"
	KindInvalidTransition     = "invalid_transition"
	KindNotFound              = "not_found"
	KindConflict              = "conflict"
	KindForbidden             = "forbidden"
	KindInternal              = "internal"
)

var kinds = []struct {
	target error
	kind   string
}{
	{ErrSequenceIntegrity, KindSequenceIntegrity},
	{ErrRangeOverlap, KindRangeOverlap},
	{ErrRangeExhausted, KindRangeExhausted},
	{ErrRangeExpired, KindRangeExpired},
	{ErrNoActiveRange, KindNoActiveRange},
	{ErrCredential, KindCredential},
	{ErrSignature, KindSignature},
	{ErrTransport, KindTransport},
	{ErrAuthorityBusiness, KindAuthorityBusiness},
	{ErrUnconfirmedSubmission, KindUnconfirmedSubmission},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrForbidden, KindForbidden},
}

// KindOf clasifica un error en su código estable; "" si err es nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindInternal
}
