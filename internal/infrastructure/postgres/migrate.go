package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jhoicas/dte-api/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsTable tabla de versiones de golang-migrate.
const MigrationsTable = "dte_schema_migrations"

// Migrations nombres de los scripts embebidos, en orden.
func Migrations() ([]string, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrator aplica los scripts embebidos con golang-migrate sobre el pool. El driver toma un
// advisory lock, así que api, worker y dtectl pueden arrancar a la vez.
type Migrator struct {
	m   *migrate.Migrate
	db  *sql.DB
	log *logger.Logger
}

// NewMigrator prepara la fuente iofs y el driver pgx/v5. Cerrar con Close; el pool no se cierra.
func NewMigrator(pool *pgxpool.Pool, log *logger.Logger) (*Migrator, error) {
	if log == nil {
		log = logger.Nop()
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("fuente de migraciones: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("driver de migraciones: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("crear migrador: %w", err)
	}
	return &Migrator{m: m, db: db, log: log.Component("migrations")}, nil
}

// Up aplica las migraciones pendientes. Cancelar ctx detiene el proceso entre scripts.
func (mg *Migrator) Up(ctx context.Context) error {
	stop := mg.stopOn(ctx)
	defer stop()
	err := mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.log.Debug().Msg("esquema al día")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrar: %w", err)
	}
	version, dirty, _ := mg.Version()
	mg.log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migraciones aplicadas")
	return nil
}

// Steps aplica n migraciones (n negativo revierte).
func (mg *Migrator) Steps(ctx context.Context, n int) error {
	stop := mg.stopOn(ctx)
	defer stop()
	if err := mg.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrar %d pasos: %w", n, err)
	}
	return nil
}

// Version versión aplicada; 0 sin migraciones.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("versión del esquema: %w", err)
	}
	return version, dirty, nil
}

// Close libera la fuente y la conexión database/sql.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (mg *Migrator) stopOn(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mg.m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

// EnsureSchema lleva el esquema a la última versión.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	mg, err := NewMigrator(pool, log)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up(ctx)
}
