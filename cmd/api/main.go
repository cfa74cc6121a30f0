package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/nfe-api/internal/application/certificate"
	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/application/emission"
	"github.com/jhoicas/nfe-api/internal/application/issuer"
	"github.com/jhoicas/nfe-api/internal/infrastructure/metrics"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/signer"
	"github.com/jhoicas/nfe-api/internal/infrastructure/postgres"
	"github.com/jhoicas/nfe-api/internal/infrastructure/redis"
	httpRouter "github.com/jhoicas/nfe-api/internal/interfaces/http"
	"github.com/jhoicas/nfe-api/pkg/config"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.Level,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("nfe_environment", cfg.NFe.Environment).
		Msg("iniciando aplicación")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migración del esquema")
	}

	documentRepo := postgres.NewDocumentRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	windowRepo := postgres.NewContingencyRepository(pool)
	invalidationRepo := postgres.NewInvalidationRepository(pool)
	issuerRepo := postgres.NewIssuerRepository(pool)
	credentialRepo := postgres.NewCredentialRepository(pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	meters := metrics.New(registry)

	// Certificados: sin NFE_CREDENTIAL_KEY solo viven en memoria.
	certOpts := []nfecert.Option{nfecert.WithObserver(meters)}
	if cfg.NFe.CredentialKey != "" {
		sealer, err := nfecert.NewSealer(cfg.NFe.CredentialKey)
		if err != nil {
			log.Fatal().Err(err).Msg("sellado de certificados")
		}
		certOpts = append(certOpts, nfecert.WithStore(credentialRepo, sealer))
	} else {
		log.Warn().Msg("NFE_CREDENTIAL_KEY vacío: los certificados no se persisten")
	}
	certs := nfecert.NewManager(log, certOpts...)
	if err := certs.Warm(ctx); err != nil {
		log.Error().Err(err).Msg("recarga de certificados")
	}

	router, err := infranfe.LoadRouter(cfg.NFe.EndpointsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("tabla de endpoints SEFAZ")
	}
	retry := infranfe.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.NFe.RetryMaxAttempts
	retry.BaseDelay = cfg.NFe.RetryBaseDelay
	retry.MaxDelay = cfg.NFe.RetryMaxDelay
	client := infranfe.NewClient(certs, router, log,
		infranfe.WithRetryPolicy(retry),
		infranfe.WithTimeouts(cfg.NFe.CallTimeout, cfg.NFe.HTTPTimeout),
		infranfe.WithPolling(cfg.NFe.PollAttempts, cfg.NFe.PollInterval),
		infranfe.WithTransmissionObserver(meters),
	)

	// Estado de contingencia: Redis si está configurado (varias instancias), si no en memoria.
	var store contingency.StateStore = contingency.NewMemoryStore()
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a Redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		store = redis.NewContingencyStore(redisClient.Client)
	}
	policy := contingency.NewManager(store, windowRepo, documentRepo,
		contingency.Config{Threshold: cfg.NFe.ContingencyThreshold, Mode: cfg.NFe.ContingencyMode},
		log, contingency.WithObserver(meters))

	emissionSvc := emission.NewService(
		emission.Repositories{
			Documents:     documentRepo,
			Sequences:     documentRepo,
			Events:        eventRepo,
			Issuers:       issuerRepo,
			Invalidations: invalidationRepo,
		},
		certs,
		infranfe.NewXMLBuilderService(cfg.App.Version),
		signer.NewDigitalSignatureService(),
		client,
		policy,
		emission.Config{Environment: cfg.NFe.TpAmb(), CancelWindow: cfg.NFe.CancelWindow},
		log,
		emission.WithArchive(infranfe.NewArchive(cfg.NFe.ArchiveDir)),
	)

	reconciler := contingency.NewReconciler(policy, emissionSvc, documentRepo, issuerRepo, contingency.ReconcilerConfig{
		Interval:    cfg.NFe.ReconcileInterval,
		Concurrency: cfg.NFe.ReconcileConcurrency,
		Batch:       cfg.NFe.ReconcileBatch,
	}, log)
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(ctx)
	}()

	certificateUC := certificate.NewUseCase(certs, issuerRepo, client, log)
	issuerUC := issuer.NewUseCase(issuerRepo, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFe.CallTimeout*time.Duration(cfg.NFe.RetryMaxAttempts) + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		Issuers:      issuerUC,
		Documents:    emissionSvc,
		Certificates: certificateUC,
		Contingency:  policy,
		JWTSecret:    cfg.JWT.Secret,
		Log:          log,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Health: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Health(ctx)
			}
			return nil
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	stop()
	select {
	case <-reconcilerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("el conciliador no terminó a tiempo")
	}

	log.Info().Msg("aplicación detenida")
}
