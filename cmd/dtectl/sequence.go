package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/application/folio"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// connect conecta a la base de la configuración; las tareas de dtectl no tienen sentido en memoria.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("STORAGE_DRIVER=%s: dtectl requiere postgres", cfg.Storage.Driver)
	}
	return postgres.NewPool(ctx, cfg.DB)
}

// openPool conecta y deja el esquema en la última versión.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool, cliLogger(cfg)); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func cliLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{Env: cfg.App.Env, Level: "warn"})
}

func newSequenceCmd() *cobra.Command {
	seq := &cobra.Command{Use: "sequence", Short: "Secuencia de folios emitidos"}

	var (
		companyID string
		docType   int
	)
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Detecta saltos y folios duplicados; con duplicados retira los rangos del tipo",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := folio.NewService(postgres.NewRangeRepository(pool), postgres.NewDocumentRepository(pool), nil, nil, cliLogger(cfg))
			report, err := svc.AuditSequence(ctx, companyID, docType)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.HasDuplicates() {
				return errors.New("folios duplicados: rangos retirados hasta revisión")
			}
			return nil
		},
	}
	audit.Flags().StringVar(&companyID, "company", "", "ID de la empresa emisora")
	audit.Flags().IntVar(&docType, "type", 33, "código de tipo de documento")
	_ = audit.MarkFlagRequired("company")
	seq.AddCommand(audit)
	return seq
}
