// Command codesight indexes local folders and answers hybrid keyword and
// vector searches over them, from the command line or as an MCP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/internal/embedder"
	"github.com/dshills/codesight/internal/engine"
	"github.com/dshills/codesight/internal/logging"
	"github.com/dshills/codesight/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "codesight",
	Short: "Local hybrid search over code and documents",
	Long: `codesight keeps an incremental index of a local folder and answers
queries by fusing BM25 keyword and vector similarity rankings.

Configuration is read from ~/.codesight/config.toml (or --config), then
CODESIGHT_* environment variables. A .env file in the working directory is
loaded first when present.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console or json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding collections")
}

func main() {
	// Load .env file if present, ignore if missing
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration problems to 2 and everything else to 1
func exitCode(err error) int {
	if errors.Is(err, types.ErrConfiguration) {
		return 2
	}
	return 1
}

// app holds what every subcommand needs
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *embedder.Client
	registry *engine.Registry
}

// loadConfig applies flags on top of the file and environment configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// newApp loads configuration and builds the logger, embedder and registry
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}

	client, err := embedder.New(cfg.Embedding, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Debug("embedding provider ready",
		zap.String("provider", client.ProviderName()),
		zap.String("model", client.Model()),
		zap.Int("dims", client.Dimension()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		registry: engine.NewRegistry(cfg, client, logger),
	}, nil
}

func (a *app) close() {
	if err := a.registry.CloseAll(); err != nil {
		a.logger.Warn("failed to close collections", zap.Error(err))
	}
	_ = a.client.Close()
	_ = a.logger.Sync()
}
