package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"finscribe/internal/cache"
	"finscribe/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the recognition and enrichment cache",
	Long: `Inspect and maintain the content hash cache.

Keys are namespaced:
  recognition:<sha256 of the document bytes>
  enrichment:<sha256 of the normalized structured text and model>:<schema version>

The backend is selected with cache.backend (memory, redis, sqlite, postgres or
none). The memory backend only lives as long as one command, so these
subcommands are most useful with a persistent backend.`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [pattern]",
	Short: "Delete cache entries matching a glob pattern",
	Long: `Delete cache entries whose key matches a glob pattern (*, ? and [...]).
Without a pattern every entry is deleted.`,
	Example: `  # Drop every enrichment produced with schema v1
  finscribe cache clear 'enrichment:*:v1'

  # Drop everything
  finscribe cache clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheClear,
}

var cacheKeyCmd = &cobra.Command{
	Use:   "key [file]",
	Short: "Print the cache key of a document or structured text",
	Long: `Print the recognition key of a document. With --text the file is read as
structured text and its enrichment key is printed instead.`,
	Example: `  finscribe cache key invoice.pdf
  finscribe structure rec.json | finscribe cache key --text -`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheKey,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired entries from the sqlite backend",
	Args:  cobra.NoArgs,
	RunE:  runCachePurge,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd, cacheKeyCmd, cachePurgeCmd)

	cacheKeyCmd.Flags().Bool("text", false, "Treat the input as structured text and print its enrichment key")
	cacheKeyCmd.Flags().String("model", "", "Model version for the enrichment key (default: openai.model)")
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")
	cfg := currentConfig()

	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := cache.Open(ctx, cfg.Cache)
	defer c.Close()
	if !c.Enabled() {
		return fmt.Errorf("cache backend %q is not available", cfg.Cache.Backend)
	}

	deleted := c.Clear(ctx, pattern)
	log.Info().
		Str("pattern", pattern).
		Int("deleted", deleted).
		Msg("Cache cleared")

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", deleted)
	return nil
}

func runCacheKey(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()
	asText, _ := cmd.Flags().GetBool("text")
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = cfg.OpenAI.Model
	}

	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	key := cache.RecognitionKey(data)
	if asText {
		key = cache.EnrichmentKey(string(data), model, cfg.Cache.SchemaVersion)
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	log := logger.WithComponent("cache")
	cfg := currentConfig()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := cache.Open(ctx, cfg.Cache)
	defer c.Close()

	sqlite, ok := c.Backend().(*cache.SQLiteBackend)
	if !ok {
		return fmt.Errorf("purge is only supported by the sqlite backend, configured: %s", cfg.Cache.Backend)
	}

	purged, err := sqlite.Purge(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge expired entries: %w", err)
	}
	log.Info().Int("purged", purged).Msg("Expired cache entries purged")

	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries\n", purged)
	return nil
}
