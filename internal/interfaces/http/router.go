package http

import (
	"context"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/application/usecase"
	"github.com/jhoicas/dte-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Operations *billing.Operations
	Folios     *folio.Service
	Companies  issuerLookup
	CompanyUC  *usecase.CompanyUseCase  // nil = sin perfil de empresa
	CustomerUC *billing.CustomerUseCase // nil = sin gestión de receptores
	JWTSecret  string
	JWTIssuer  string
	// Gatherer expone /metrics; nil = sin endpoint de métricas.
	Gatherer prometheus.Gatherer
	// Health verifica dependencias (ping a la base); nil = siempre ok.
	Health      func(ctx context.Context) error
	ServiceName string
	// SwaggerFile documento servido en /docs; vacío = sin Swagger UI.
	SwaggerFile string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	// Swagger UI: http://localhost:<port>/docs
	if deps.SwaggerFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: deps.SwaggerFile,
			Path:     "docs",
			Title:    "DTE API",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok", "service": deps.ServiceName})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Rutas protegidas (requieren Bearer Token y emisor registrado)
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer), RequireIssuer(deps.Companies))
	readers := RequireRole(jwt.RoleAdmin, jwt.RoleEmisor, jwt.RoleAuditor)
	issuers := RequireRole(jwt.RoleAdmin, jwt.RoleEmisor)
	admins := RequireRole(jwt.RoleAdmin)

	// Documentos
	documents := api.Group("/documents")
	documentHandler := NewDocumentHandler(deps.Operations)
	documents.Get("/", readers, documentHandler.List)
	documents.Post("/", issuers, documentHandler.Create)
	documents.Get("/:id", readers, documentHandler.GetByID)
	documents.Get("/:id/xml", readers, documentHandler.SignedXML)
	documents.Post("/:id/sign", issuers, documentHandler.Sign)
	documents.Post("/:id/submit", issuers, documentHandler.Submit)
	documents.Post("/:id/poll", issuers, documentHandler.Poll)
	documents.Get("/:id/acknowledgment", readers, documentHandler.Acknowledgment)
	documents.Post("/:id/void", admins, documentHandler.Void)
	documents.Post("/:id/reject", admins, documentHandler.Reject)

	// Notificaciones del SII
	api.Post("/sii/callback", admins, documentHandler.Callback)

	// Emisor y receptores
	if deps.CompanyUC != nil {
		companyHandler := NewCompanyHandler(deps.CompanyUC)
		api.Get("/company", readers, companyHandler.Get)
		api.Put("/company", admins, companyHandler.Update)
	}
	if deps.CustomerUC != nil {
		customerHandler := NewCustomerHandler(deps.CustomerUC)
		api.Post("/customers", issuers, customerHandler.Create)
		api.Get("/customers/:id", readers, customerHandler.GetByID)
	}

	// CAF y folios
	rangeHandler := NewRangeHandler(deps.Operations, deps.Folios)
	ranges := api.Group("/ranges")
	ranges.Post("/", admins, rangeHandler.Import)
	ranges.Get("/:type", readers, rangeHandler.List)
	ranges.Post("/:id/retire", admins, rangeHandler.Retire)

	folios := api.Group("/folios")
	folios.Post("/:type/allocate", admins, rangeHandler.Allocate)
	folios.Get("/:type/audit", readers, rangeHandler.Audit)
}
