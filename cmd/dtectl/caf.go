package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

type cafSummary struct {
	IssuerRUT        string    `json:"issuer_rut"`
	IssuerName       string    `json:"issuer_name"`
	DocumentTypeCode int       `json:"document_type"`
	From             int64     `json:"from"`
	To               int64     `json:"to"`
	Size             int64     `json:"size"`
	AuthorizedAt     time.Time `json:"authorized_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExplicitExpiry   bool      `json:"explicit_expiry"`
	Expired          bool      `json:"expired"`
	KeyID            string    `json:"key_id,omitempty"`
	HasPrivateKey    bool      `json:"has_private_key"`
	Signature        string    `json:"signature"` // ausente | no verificada | válida | inválida
	Problems         []string  `json:"problems,omitempty"`
}

func newCAFCmd() *cobra.Command {
	caf := &cobra.Command{Use: "caf", Short: "Códigos de autorización de folios"}

	var authorityCert string
	inspect := &cobra.Command{
		Use:   "inspect <archivo.xml>",
		Short: "Muestra el rango, la vigencia y el estado de la firma de un CAF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			grant, err := sii.ParseCAF(raw)
			if err != nil {
				return err
			}
			out := cafSummary{
				IssuerRUT:        grant.IssuerRUT,
				IssuerName:       grant.IssuerName,
				DocumentTypeCode: grant.DocumentTypeCode,
				From:             grant.From,
				To:               grant.To,
				Size:             grant.To - grant.From + 1,
				AuthorizedAt:     grant.AuthorizedAt,
				ExpiresAt:        grant.ExpiresAt,
				ExplicitExpiry:   grant.ExplicitExpiry,
				Expired:          !grant.ExpiresAt.After(time.Now()),
				KeyID:            grant.KeyID,
				HasPrivateKey:    grant.PrivateKeyPEM != "",
				Signature:        "no verificada",
			}
			if err := grant.ValidateIssuer(); err != nil {
				out.Problems = append(out.Problems, err.Error())
			}
			switch {
			case !grant.HasSignature():
				out.Signature = "ausente"
			case authorityCert != "":
				pemBytes, err := os.ReadFile(authorityCert)
				if err != nil {
					return err
				}
				key, err := sii.ParseAuthorityKey(pemBytes)
				if err != nil {
					return err
				}
				if err := grant.VerifySignature(key); err != nil {
					out.Signature = "inválida"
					out.Problems = append(out.Problems, err.Error())
				} else {
					out.Signature = "válida"
				}
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if len(out.Problems) > 0 {
				return errors.New("el CAF tiene problemas")
			}
			if out.Expired {
				return fmt.Errorf("el CAF venció el %s", out.ExpiresAt.Format(time.DateOnly))
			}
			return nil
		},
	}
	inspect.Flags().StringVar(&authorityCert, "authority-cert", "", "certificado PEM del SII para verificar la FRMA")
	caf.AddCommand(inspect)
	return caf
}
