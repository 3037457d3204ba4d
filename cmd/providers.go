package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"finscribe/internal/config"
	"finscribe/internal/registry"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the available recognition, enrichment and push providers",
	Long: `List every registered provider per capability. The configured default is
marked with an asterisk.

  google-vision  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
  documentai     additionally GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION, DOCUMENT_AI_PROCESSOR_ID
  azure          AZURE_VISION_ENDPOINT, AZURE_VISION_KEY
  tesseract      a binary built with -tags tesseract, TESSERACT_LANGUAGES
  plaintext      nothing, reads text files as they are
  openai         OPENAI_API_KEY
  sheets         Google credentials and GOOGLE_SHEET_URL
  jsonl          JSONL_PATH (default: stdout)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printProviders(cmd.OutOrStdout(), providers, currentConfig())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func printProviders(out io.Writer, r *registry.Registry, cfg *config.Config) {
	sections := []struct {
		title      string
		capability registry.Capability
		current    string
	}{
		{"Recognition", registry.Parse, cfg.Providers.Recognition},
		{"Enrichment", registry.Enrich, cfg.Providers.Enrichment},
		{"Push", registry.Push, cfg.Providers.Push},
	}

	for _, s := range sections {
		fmt.Fprintf(out, "%s:\n", s.title)
		for _, name := range r.Names(s.capability) {
			marker := " "
			if strings.EqualFold(name, s.current) {
				marker = "*"
			}
			fmt.Fprintf(out, "  %s %s\n", marker, name)
		}
	}
}
