package http

import (
	"context"
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// Roles con permiso sobre certificados y contingencia.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operador"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuers      IssuerService
	Documents    DocumentService
	Certificates CertificateService
	Contingency  ContingencyService
	JWTSecret    string
	Log          *logger.Logger

	// Metrics handler de Prometheus; nil no expone /metrics.
	Metrics nethttp.Handler
	// Health chequeos de dependencias (DB, Redis); nil responde siempre ok.
	Health func(ctx context.Context) error
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.Health != nil {
			if err := deps.Health(c.Context()); err != nil {
				log.Warn().Err(err).Msg("health check fallido")
				return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "UNHEALTHY", Message: err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	// Rutas protegidas (requieren Bearer Token)
	protected := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	// Cadastro del emisor (alta/edición solo admin)
	issuerHandler := NewIssuerHandler(deps.Issuers, log)
	protected.Get("/issuer", issuerHandler.Get)
	protected.Put("/issuer", RequireRole(RoleAdmin), issuerHandler.Save)

	documents := protected.Group("/documents")
	documentHandler := NewDocumentHandler(deps.Documents, log)
	documents.Post("/", documentHandler.Emit)
	documents.Get("/key/:key", documentHandler.GetByAccessKey)
	documents.Get("/:id", documentHandler.GetByID)
	documents.Get("/:id/events", documentHandler.Events)
	documents.Post("/:id/cancel", documentHandler.Cancel)
	documents.Post("/:id/correction", documentHandler.Correction)
	documents.Post("/:id/resolve", documentHandler.Resolve)

	protected.Post("/invalidations", documentHandler.InvalidateRange)

	// Certificados (solo admin)
	certificates := protected.Group("/certificates")
	certificateHandler := NewCertificateHandler(deps.Certificates, log)
	certificates.Get("/status", certificateHandler.Status)
	certificates.Post("/", RequireRole(RoleAdmin), certificateHandler.Upload)
	certificates.Delete("/", RequireRole(RoleAdmin), certificateHandler.Remove)

	// Contingencia (admin u operador)
	contingency := protected.Group("/contingency")
	contingencyHandler := NewContingencyHandler(deps.Contingency, log)
	contingency.Get("/", contingencyHandler.Status)
	contingency.Post("/", RequireRole(RoleAdmin, RoleOperator), contingencyHandler.Activate)
	contingency.Delete("/", RequireRole(RoleAdmin, RoleOperator), contingencyHandler.Deactivate)
}
