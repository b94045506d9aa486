// dtectl herramienta de operación del emisor DTE: inspecciona CAF, revisa credenciales de firma,
// verifica XML firmados, audita la secuencia de folios y emite tokens de servicio.
//
// Uso: go run ./cmd/dtectl <comando> [flags]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jhoicas/dte-api/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dtectl",
		Short:        "Operación del emisor de documentos tributarios electrónicos",
		SilenceUsage: true,
	}
	root.AddCommand(
		newCAFCmd(),
		newCredCmd(),
		newXMLCmd(),
		newSequenceCmd(),
		newSchemaCmd(),
		newTokenCmd(),
		newCompanyCmd(),
		newCustomerCmd(),
	)
	return root
}

// loadConfig lee la misma configuración que cmd/api (env y archivo .env).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cargar configuración: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
