package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// issuerLookup es el contrato mínimo que necesita el middleware; lo implementa repository.CompanyRepository.
type issuerLookup interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// RequireIssuer verifica que la empresa del token esté registrada como emisor.
// Debe usarse DESPUÉS de AuthMiddleware (necesita LocalCompanyID).
//
// Comportamiento:
//   - 403 Forbidden → la empresa no existe como emisor.
//   - 503 Service Unavailable → fallo de infraestructura al consultar.
func RequireIssuer(companies issuerLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		companyID := GetCompanyID(c)
		if companyID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "company_id no encontrado en el token",
			})
		}
		company, err := companies.GetByID(c.UserContext(), companyID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "ISSUER_CHECK_FAILED",
				Message: "no se pudo verificar el emisor, intente más tarde",
			})
		}
		if company == nil {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "ISSUER_UNKNOWN",
				Message: "la empresa del token no está registrada como emisor",
			})
		}
		return c.Next()
	}
}
