package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codesight/internal/embedder"
	"github.com/dshills/codesight/internal/logging"
	"github.com/dshills/codesight/pkg/types"
)

const probeText = "func ValidateToken(raw string) error checks the token signature"

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Embed a sample text with the configured provider",
	Long: `Sends one sample text to the configured embedding provider and prints
the provider, model and vector dimension it returned.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := embedder.New(cfg.Embedding, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	start := time.Now()
	vectors, err := client.EmbedBatch(cmd.Context(), []string{probeText})
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if err := client.CheckDimensions(len(vectors[0])); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider: %s\n", client.ProviderName())
	fmt.Fprintf(out, "Model:    %s\n", client.Model())
	fmt.Fprintf(out, "Dims:     %d\n", len(vectors[0]))
	fmt.Fprintf(out, "Latency:  %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
