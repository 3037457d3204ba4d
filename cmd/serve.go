package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"finscribe/internal/logger"
	"finscribe/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation service over HTTP",
	Long: `Serve the validation API:

  POST   /v1/validate  validate an invoice, or extract one from OCR text or a recognition result
  GET    /healthz      report cache state (?probe=true re-checks a disabled backend)
  DELETE /v1/cache     clear cache entries (?pattern=enrichment:*)

Runs until interrupted. Without enrichment credentials only invoices that are
already structured can be validated.`,
	Example: `  finscribe serve --addr :9000
  curl -s localhost:9000/v1/validate -d '{"ocr_text": "Invoice 42 ... Total 119,00 EUR"}'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logger.WithComponent("serve")
	cfg := currentConfig()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := createContextWithTimeout(0, log)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, stages{enricher: cfg.Providers.Enrichment}, log)
	if err != nil {
		log.Warn().
			Err(err).
			Str("enricher", cfg.Providers.Enrichment).
			Msg("Enrichment unavailable, serving structured invoices only")
		if p, err = buildPipeline(ctx, cfg, stages{}, log); err != nil {
			return err
		}
	}
	defer p.Cache().Close()

	log.Info().Str("addr", addr).Msg("Starting validation service")
	return server.New(p).Run(ctx, addr)
}
