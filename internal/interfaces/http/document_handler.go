package http

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
)

// DocumentHandler maneja el ciclo de vida de los DTE (protegido).
type DocumentHandler struct {
	ops *billing.Operations
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(ops *billing.Operations) *DocumentHandler {
	return &DocumentHandler{ops: ops}
}

// Create crea un borrador con folio asignado.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	res := h.ops.CreateDraftDocument(c.UserContext(), GetCompanyID(c), in)
	return respond(c, fiber.StatusCreated, res.Errors, res)
}

// List GET /api/documents?status=sent&limit=20&offset=0
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badRequest(c, "paginación inválida")
	}
	out, err := h.ops.ListDocuments(c.UserContext(), GetCompanyID(c), c.Query("status"), page)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// GetByID devuelve el documento (sin payloads XML).
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	doc, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(doc)
}

// SignedXML devuelve el XML firmado.
// GET /api/documents/:id/xml
func (h *DocumentHandler) SignedXML(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	doc, err := h.ops.Lifecycle().GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if doc.SignedPayload == "" {
		return writeError(c, fmt.Errorf("%w: el documento no está firmado", domain.ErrInvalidTransition))
	}
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	return c.SendString(doc.SignedPayload)
}

// Sign valida y firma.
// POST /api/documents/:id/sign
func (h *DocumentHandler) Sign(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	var in dto.SignRequest
	if err := c.BodyParser(&in); err != nil || in.CredentialRef == "" {
		return badRequest(c, "credential_ref requerido")
	}
	res := h.ops.ValidateAndSign(c.UserContext(), c.Params("id"), in.CredentialRef)
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// Submit envía al SII.
// POST /api/documents/:id/submit
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	res := h.ops.SubmitToAuthority(c.UserContext(), c.Params("id"))
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// Poll consulta el estado en el SII.
// POST /api/documents/:id/poll
func (h *DocumentHandler) Poll(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	res := h.ops.PollStatus(c.UserContext(), c.Params("id"))
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// Acknowledgment descarga el acuse de recibo.
// GET /api/documents/:id/acknowledgment
func (h *DocumentHandler) Acknowledgment(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	ack, err := h.ops.Lifecycle().FetchAcknowledgment(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	return c.SendString(ack.Raw)
}

// Void anula un documento que no llegó al SII.
// POST /api/documents/:id/void
func (h *DocumentHandler) Void(c *fiber.Ctx) error {
	return h.close(c, h.ops.VoidDocument)
}

// Reject rechaza un documento por un error irrecuperable.
// POST /api/documents/:id/reject
func (h *DocumentHandler) Reject(c *fiber.Ctx) error {
	return h.close(c, h.ops.RejectDocument)
}

func (h *DocumentHandler) close(c *fiber.Ctx, op func(ctx context.Context, id, reason string) dto.DocumentResult) error {
	if _, err := h.owned(c); err != nil {
		return writeError(c, err)
	}
	var in dto.ReasonRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	res := op(c.UserContext(), c.Params("id"), in.Reason)
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// Callback aplica la notificación de resultado del SII para un trackID.
// POST /api/sii/callback
func (h *DocumentHandler) Callback(c *fiber.Ctx) error {
	var in dto.CallbackRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	if in.TrackingID == "" || in.StatusCode == "" {
		return badRequest(c, "tracking_id y status_code requeridos")
	}
	doc, err := h.ops.Lifecycle().FindByTrackingID(c.UserContext(), in.TrackingID)
	if err != nil {
		return writeError(c, err)
	}
	if doc.CompanyID != GetCompanyID(c) {
		return writeError(c, fmt.Errorf("trackID %s: %w", in.TrackingID, domain.ErrNotFound))
	}
	res := h.ops.HandleAuthorityCallback(c.UserContext(), in)
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// owned carga el documento y verifica que pertenezca a la empresa del token.
func (h *DocumentHandler) owned(c *fiber.Ctx) (*dto.DocumentResponse, error) {
	doc, err := h.ops.Lifecycle().GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if doc.CompanyID != GetCompanyID(c) {
		return nil, fmt.Errorf("documento %s: %w", doc.ID, domain.ErrNotFound)
	}
	return dto.NewDocumentResponse(doc), nil
}
