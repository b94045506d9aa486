package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
)

type verifySummary struct {
	Signature string `json:"signature"`
	Timbre    string `json:"timbre"`
}

func newXMLCmd() *cobra.Command {
	x := &cobra.Command{Use: "xml", Short: "Documentos XML firmados"}
	x.AddCommand(&cobra.Command{
		Use:   "verify <archivo.xml>",
		Short: "Verifica la firma XML-DSig y el timbre electrónico de un DTE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := signer.Verify(raw)
			if err != nil {
				return err
			}
			out := verifySummary{Signature: "válida", Timbre: "válido"}
			ok := true
			if !res.Valid {
				out.Signature, ok = res.Reason, false
			}
			if err := sii.VerifyTimbre(raw); err != nil {
				out.Timbre, ok = err.Error(), false
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !ok {
				return errors.New("verificación fallida")
			}
			return nil
		},
	})
	return x
}
