package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
)

// statusFor código HTTP para el tipo de error de un resultado.
func statusFor(kind string) int {
	switch kind {
	case domain.KindValidation, domain.KindCredential, domain.KindSignature, domain.KindAuthorityBusiness:
		return fiber.StatusUnprocessableEntity
	case domain.KindRangeOverlap, domain.KindRangeExhausted, domain.KindRangeExpired, domain.KindNoActiveRange,
		domain.KindSequenceIntegrity, domain.KindInvalidTransition, domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindTransport, domain.KindUnconfirmedSubmission:
		return fiber.StatusBadGateway
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindForbidden:
		return fiber.StatusForbidden
	}
	return fiber.StatusInternalServerError
}

// respond escribe el resultado con el código del primer error, o okStatus si no hay errores.
func respond(c *fiber.Ctx, okStatus int, errs []dto.OperationError, body any) error {
	if len(errs) == 0 {
		return c.Status(okStatus).JSON(body)
	}
	return c.Status(statusFor(errs[0].Kind)).JSON(body)
}

// writeError responde un error de Go con el mismo formato de los resultados.
func writeError(c *fiber.Ctx, err error) error {
	errs := dto.ErrorsFrom(err)
	return c.Status(statusFor(errs[0].Kind)).JSON(dto.NewErrorResponse(errs))
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: msg})
}
