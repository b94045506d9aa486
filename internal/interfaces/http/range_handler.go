package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/domain"
)

// RangeHandler administra CAF y folios (protegido).
type RangeHandler struct {
	ops    *billing.Operations
	folios *folio.Service
}

// NewRangeHandler construye el handler.
func NewRangeHandler(ops *billing.Operations, folios *folio.Service) *RangeHandler {
	return &RangeHandler{ops: ops, folios: folios}
}

// Import importa el XML del CAF enviado como cuerpo.
// POST /api/ranges
func (h *RangeHandler) Import(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "el cuerpo debe ser el XML del CAF")
	}
	res := h.ops.ImportAuthorizedRange(c.UserContext(), GetCompanyID(c), append([]byte(nil), body...))
	return respond(c, fiber.StatusCreated, res.Errors, res)
}

// List rangos de un tipo de documento.
// GET /api/ranges/:type
func (h *RangeHandler) List(c *fiber.Ctx) error {
	docType, err := strconv.Atoi(c.Params("type"))
	if err != nil {
		return badRequest(c, "tipo de documento inválido")
	}
	ranges, err := h.folios.ListRanges(c.UserContext(), GetCompanyID(c), docType)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]*dto.RangeResponse, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, dto.NewRangeResponse(r))
	}
	return c.JSON(out)
}

// Retire desactiva un rango.
// POST /api/ranges/:id/retire
func (h *RangeHandler) Retire(c *fiber.Ctx) error {
	rg, err := h.folios.GetRange(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if rg.CompanyID != GetCompanyID(c) {
		return writeError(c, domain.ErrNotFound)
	}
	if err := h.folios.RetireRange(c.UserContext(), rg.ID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Allocate asigna un folio sin documento.
// POST /api/folios/:type/allocate
func (h *RangeHandler) Allocate(c *fiber.Ctx) error {
	docType, err := strconv.Atoi(c.Params("type"))
	if err != nil {
		return badRequest(c, "tipo de documento inválido")
	}
	res := h.ops.AllocateNextFolio(c.UserContext(), GetCompanyID(c), docType)
	return respond(c, fiber.StatusOK, res.Errors, res)
}

// Audit revisa duplicados y huecos en la secuencia emitida.
// GET /api/folios/:type/audit
func (h *RangeHandler) Audit(c *fiber.Ctx) error {
	docType, err := strconv.Atoi(c.Params("type"))
	if err != nil {
		return badRequest(c, "tipo de documento inválido")
	}
	res := h.ops.AuditSequence(c.UserContext(), GetCompanyID(c), docType)
	return respond(c, fiber.StatusOK, res.Errors, res)
}
