package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
)

func newSchemaCmd() *cobra.Command {
	schema := &cobra.Command{Use: "schema", Short: "Migraciones del esquema PostgreSQL"}

	withMigrator := func(fn func(cmd *cobra.Command, mg *postgres.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			mg, err := postgres.NewMigrator(pool, cliLogger(cfg))
			if err != nil {
				return err
			}
			defer mg.Close()
			return fn(cmd, mg)
		}
	}
	printVersion := func(cmd *cobra.Command, mg *postgres.Migrator) error {
		version, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
		return err
	}

	schema.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Aplica las migraciones pendientes",
			RunE: withMigrator(func(cmd *cobra.Command, mg *postgres.Migrator) error {
				if err := mg.Up(cmd.Context()); err != nil {
					return err
				}
				return printVersion(cmd, mg)
			}),
		},
		&cobra.Command{
			Use:   "down [pasos]",
			Short: "Revierte migraciones (por defecto una)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("pasos inválidos %q", args[0])
					}
					steps = n
				}
				return withMigrator(func(cmd *cobra.Command, mg *postgres.Migrator) error {
					if err := mg.Steps(cmd.Context(), -steps); err != nil {
						return err
					}
					return printVersion(cmd, mg)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Muestra la versión aplicada",
			RunE:  withMigrator(printVersion),
		},
	)
	return schema
}
