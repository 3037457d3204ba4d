package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finscribe/internal/config"
	"finscribe/internal/logger"
)

var version = "1.0.0"

// appConfig is loaded once per invocation by the root command.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "finscribe",
	Short: "finscribe - turn scanned invoices into validated financial records",
	Long: `finscribe extracts text from scanned or photographed financial documents,
distills it into labeled blocks, lets a language model turn those blocks into a
typed invoice and repairs the invoice's arithmetic before export.

Recognition and enrichment results are cached by content hash, so running the
same document twice only calls the external providers once.

Configuration is read from an optional TOML file (--config or FINSCRIBE_CONFIG)
and environment variables, which take precedence. A .env file in the working
directory is loaded on startup.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		appConfig = cfg
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
}
