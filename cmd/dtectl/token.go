package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Tokens de acceso a la API"}

	var (
		userID    string
		companyID string
		role      string
		expMin    int
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Emite un JWT firmado con JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET requerido")
			}
			switch role {
			case jwt.RoleAdmin, jwt.RoleEmisor, jwt.RoleAuditor:
			default:
				return fmt.Errorf("rol %q inválido (admin|emisor|auditor)", role)
			}
			if expMin <= 0 {
				expMin = cfg.JWT.Expiration
			}
			signed, err := jwt.Generate(cfg.JWT.Secret, userID, companyID, role, cfg.JWT.Issuer, expMin)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	issue.Flags().StringVar(&userID, "user", "dtectl", "sujeto del token")
	issue.Flags().StringVar(&companyID, "company", "", "ID de la empresa emisora")
	issue.Flags().StringVar(&role, "role", jwt.RoleEmisor, "rol: admin, emisor o auditor")
	issue.Flags().IntVar(&expMin, "exp", 0, "minutos de vigencia (0 = JWT_EXPIRATION_MINUTES)")
	_ = issue.MarkFlagRequired("company")
	tok.AddCommand(issue)
	return tok
}
