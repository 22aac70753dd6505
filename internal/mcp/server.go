package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/engine"
	"github.com/dshills/codesight/internal/logging"
)

const (
	// ServerName is the MCP server name
	ServerName = "codesight"
)

// ServerVersion is the reported server version, set at build time by main
var ServerVersion = "dev"

// Server wraps the MCP server with the collection registry
type Server struct {
	mcp      *server.MCPServer
	registry *engine.Registry
	logger   *zap.Logger
}

// NewServer creates a new MCP server instance. The registry stays owned by
// the caller.
func NewServer(registry *engine.Registry, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:      mcpServer,
		registry: registry,
		logger:   logging.OrNop(logger).Named("mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	s.logger.Info("serving MCP on stdio", zap.String("version", ServerVersion))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexFolderTool(), s.handleIndexFolder)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
