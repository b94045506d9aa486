package dto

import "github.com/jhoicas/dte-api/internal/domain"

// PageRequest paginación de GET /api/documents.
type PageRequest struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// DefaultPage normaliza la página: límite 20 por omisión y nunca mayor a 100.
func (p *PageRequest) DefaultPage() {
	switch {
	case p.Limit <= 0:
		p.Limit = defaultPageLimit
	case p.Limit > maxPageLimit:
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// PageResponse metadatos de página en respuestas.
type PageResponse struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total,omitempty"`
}

// ErrorResponse cuerpo de error HTTP. Details lleva los errores restantes cuando hubo varios
// (validación agregada de un documento).
type ErrorResponse struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Details []OperationError `json:"details,omitempty"`
}

// NewErrorResponse toma el primer error como código principal.
func NewErrorResponse(errs []OperationError) ErrorResponse {
	if len(errs) == 0 {
		return ErrorResponse{Code: domain.KindInternal, Message: "error desconocido"}
	}
	r := ErrorResponse{Code: errs[0].Kind, Message: errs[0].Message}
	if len(errs) > 1 {
		r.Details = errs[1:]
	}
	return r
}
