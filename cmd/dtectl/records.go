package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/usecase"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/dte-api/pkg/sii"
)

func newCompanyCmd() *cobra.Command {
	company := &cobra.Command{Use: "company", Short: "Empresas emisoras"}

	var (
		id string
		in dto.CompanyRequest
	)
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Registra o actualiza una empresa emisora",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sii.ValidateRUT(in.RUT); err != nil {
				return fmt.Errorf("RUT emisor: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			out, err := usecase.NewCompanyUseCase(postgres.NewCompanyRepository(pool)).Save(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := upsert.Flags()
	f.StringVar(&id, "id", "", "identificador interno (el company_id de los tokens)")
	f.StringVar(&in.RUT, "rut", "", "RUT con dígito verificador")
	f.StringVar(&in.BusinessName, "name", "", "razón social")
	f.StringVar(&in.Activity, "activity", "", "giro")
	f.IntVar(&in.ActivityCode, "acteco", 0, "código de actividad económica")
	f.StringVar(&in.Address, "address", "", "dirección de origen")
	f.StringVar(&in.Commune, "commune", "", "comuna de origen")
	f.StringVar(&in.City, "city", "", "ciudad de origen")
	f.IntVar(&in.ResolutionNumber, "resolution", 0, "número de resolución del SII")
	f.StringVar(&in.ResolutionDate, "resolution-date", "", "fecha de resolución (AAAA-MM-DD)")
	for _, name := range []string{"id", "rut", "name"} {
		_ = upsert.MarkFlagRequired(name)
	}
	company.AddCommand(upsert)
	return company
}

func newCustomerCmd() *cobra.Command {
	customer := &cobra.Command{Use: "customer", Short: "Receptores"}

	var (
		companyID string
		in        dto.CustomerRequest
	)
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Registra o actualiza un receptor de una empresa",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sii.ValidateRUT(in.RUT); err != nil {
				return fmt.Errorf("RUT receptor: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			out, err := billing.NewCustomerUseCase(postgres.NewCustomerRepository(pool)).Register(cmd.Context(), companyID, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := upsert.Flags()
	f.StringVar(&in.ID, "id", "", "identificador interno (vacío = se genera)")
	f.StringVar(&companyID, "company", "", "ID de la empresa emisora")
	f.StringVar(&in.RUT, "rut", "", "RUT con dígito verificador")
	f.StringVar(&in.BusinessName, "name", "", "razón social")
	f.StringVar(&in.Activity, "activity", "", "giro")
	f.StringVar(&in.Address, "address", "", "dirección")
	f.StringVar(&in.Commune, "commune", "", "comuna")
	f.StringVar(&in.City, "city", "", "ciudad")
	for _, name := range []string{"company", "rut", "name"} {
		_ = upsert.MarkFlagRequired(name)
	}
	customer.AddCommand(upsert)
	return customer
}
