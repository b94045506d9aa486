// Package bootstrap arma los componentes del pipeline DTE a partir de la configuración.
// Lo comparten cmd/api, cmd/worker y cmd/dtectl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/application/usecase"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/internal/infrastructure/events"
	"github.com/jhoicas/dte-api/internal/infrastructure/memory"
	"github.com/jhoicas/dte-api/internal/infrastructure/metrics"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/dte-api/internal/infrastructure/queue"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// Components dependencias ya construidas.
type Components struct {
	Config     *config.Config
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Pool       *pgxpool.Pool // nil con STORAGE_DRIVER=memory
	Companies  repository.CompanyStore
	CompanyUC  *usecase.CompanyUseCase
	CustomerUC *billing.CustomerUseCase
	Folios     *folio.Service
	Lifecycle  *billing.Lifecycle
	Operations *billing.Operations
	Scheduler  *queue.Scheduler // nil sin QUEUE_REDIS_ADDR

	closers []func() error
}

// Close libera conexiones en orden inverso a su creación.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// Health ping a la base; siempre ok en memoria.
func (c *Components) Health(ctx context.Context) error {
	if c.Pool == nil {
		return nil
	}
	return c.Pool.Ping(ctx)
}

// Build construye todo el grafo. Ante error cierra lo que alcanzó a abrir.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Log: log, Gatherer: prometheus.DefaultGatherer}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()
	c.Metrics = metrics.New(prometheus.DefaultRegisterer)

	var (
		ranges      repository.RangeRepository
		documents   repository.DocumentRepository
		submissions repository.SubmissionRepository
		customers   repository.CustomerStore
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("almacenamiento en memoria: los datos se pierden al reiniciar")
		ranges = memory.NewRangeRepository()
		docs := memory.NewDocumentRepository()
		documents, submissions = docs, docs.Submissions()
		c.Companies = memory.NewCompanyStore()
		customers = memory.NewCustomerStore()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		c.Pool = pool
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		if err := postgres.EnsureSchema(ctx, pool, log); err != nil {
			return nil, fmt.Errorf("migraciones: %w", err)
		}
		ranges = postgres.NewRangeRepository(pool)
		documents = postgres.NewDocumentRepository(pool)
		submissions = postgres.NewSubmissionRepository(pool)
		c.Companies = postgres.NewCompanyRepository(pool)
		customers = postgres.NewCustomerRepository(pool)
	}

	publisher, err := newPublisher(cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}

	c.Folios = folio.NewService(ranges, documents, publisher, c.Metrics, log)
	if cfg.SII.AuthorityCertPath != "" {
		pemBytes, err := os.ReadFile(cfg.SII.AuthorityCertPath)
		if err != nil {
			return nil, fmt.Errorf("certificado del SII: %w", err)
		}
		key, err := sii.ParseAuthorityKey(pemBytes)
		if err != nil {
			return nil, err
		}
		c.Folios.WithAuthorityKey(key)
	} else {
		log.Warn().Msg("SII_AUTHORITY_CERT_PATH vacío: la firma de los CAF no se verifica")
	}

	gateway, err := sii.NewGateway(sii.GatewayConfig{
		Environment: cfg.SII.Environment,
		BaseURL:     cfg.SII.BaseURL,
		Timeout:     cfg.SII.Timeout,
		MaxRetries:  cfg.SII.MaxRetries,
		UserAgent:   cfg.SII.UserAgent,
	}, sii.StaticToken(cfg.SII.Token), nil, c.Metrics, log)
	if err != nil {
		return nil, err
	}
	signerSvc := signer.NewService(log, c.Metrics)
	credentials := signer.NewFileCredentialStore(cfg.Signer.Credentials, cfg.Signer.CacheTTL)
	switch {
	case cfg.SII.TokenCredential != "":
		gateway.UseSeedToken(signerSvc.SeedSigner(credentials, cfg.SII.TokenCredential), cfg.SII.TokenTTL)
	case cfg.SII.Token == "":
		log.Warn().Msg("sin SII_TOKEN_CREDENTIAL ni SII_TOKEN: los envíos al SII fallarán por autenticación")
	}

	var scheduler ports.StatusPollScheduler
	if cfg.Queue.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr})
		c.closers = append(c.closers, client.Close)
		c.Scheduler = queue.NewScheduler(client, cfg.SII.PollDelay)
		scheduler = c.Scheduler
	}

	c.Lifecycle, err = billing.NewLifecycle(billing.Deps{
		Folios:      c.Folios,
		Documents:   documents,
		Submissions: submissions,
		Companies:   c.Companies,
		Customers:   customers,
		Builder:     sii.NewXMLBuilderService(),
		Signer:      signerSvc,
		Credentials: credentials,
		Gateway:     gateway,
		Events:      publisher,
		Scheduler:   scheduler,
		Metrics:     c.Metrics,
		Log:         log,
		SenderRUT:   cfg.SII.SenderRUT,
		PollDelay:   cfg.SII.PollDelay,
	})
	if err != nil {
		return nil, err
	}
	c.Operations = billing.NewOperations(c.Lifecycle, c.Folios)
	c.CompanyUC = usecase.NewCompanyUseCase(c.Companies)
	c.CustomerUC = billing.NewCustomerUseCase(customers)
	return c, nil
}

// newPublisher Redis si hay REDIS_URL; si no, eventos solo a log.
func newPublisher(cfg config.RedisConfig, log *logger.Logger) (ports.EventPublisher, error) {
	if cfg.URL == "" {
		return events.NewLogPublisher(log), nil
	}
	p, err := events.NewRedisPublisher(cfg.URL, cfg.Channel, log)
	if err != nil {
		return nil, fmt.Errorf("redis de eventos: %w", err)
	}
	return p, nil
}
