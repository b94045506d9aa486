package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/pkg/logger"
)

type credSummary struct {
	Subject      string `json:"subject"`
	Issuer       string `json:"issuer"`
	SerialNumber string `json:"serial_number"`
	KeySizeBits  int    `json:"key_size_bits"`
	ValidFrom    string `json:"valid_from"`
	ValidTo      string `json:"valid_to"`
	signer.CertificateValidation
}

func newCredCmd() *cobra.Command {
	cred := &cobra.Command{Use: "cred", Short: "Credenciales de firma (PKCS#12)"}

	var passwordEnv string
	check := &cobra.Command{
		Use:   "check <archivo.pfx>",
		Short: "Valida vigencia, tamaño de llave y correspondencia de un certificado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := signer.LoadCredentialFile(args[0], os.Getenv(passwordEnv))
			if err != nil {
				return err
			}
			v := signer.NewService(logger.Nop(), nil).ValidateCredential(c)
			if err := printJSON(cmd.OutOrStdout(), credSummary{
				Subject:               c.Subject,
				Issuer:                c.Issuer,
				SerialNumber:          c.SerialNumber,
				KeySizeBits:           c.KeySizeBits,
				ValidFrom:             c.ValidFrom.Format("2006-01-02"),
				ValidTo:               c.ValidTo.Format("2006-01-02"),
				CertificateValidation: v,
			}); err != nil {
				return err
			}
			return v.Err()
		},
	}
	check.Flags().StringVar(&passwordEnv, "password-env", "SIGNER_PASSWORD", "variable de entorno con la contraseña del contenedor")
	cred.AddCommand(check)
	return cred
}
