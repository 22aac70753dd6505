package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/mcp"
	"github.com/dshills/codesight/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Serves the index_folder, search and get_status tools over the Model
Context Protocol. stdout carries protocol messages; logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("codesight MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("data_dir", a.cfg.DataDir))

	mcp.ServerVersion = version
	server := mcp.NewServer(a.registry, a.logger)
	err = server.Serve(cmd.Context())
	if cmd.Context().Err() != nil {
		a.logger.Info("server stopped")
		return nil
	}
	return err
}
