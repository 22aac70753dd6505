package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/internal/embedder"
	"github.com/dshills/codesight/internal/engine"
	"github.com/dshills/codesight/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Index.UseGit = false
	cfg.Index.Workers = 2

	client := embedder.NewClient(embedder.NewHashingProvider("hash-test", 32), embedder.ClientConfig{}, nil)
	reg := engine.NewRegistry(cfg, client, nil)
	t.Cleanup(func() { _ = reg.CloseAll() })
	return NewServer(reg, nil)
}

func newFolder(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"auth/token.go": "package auth\n\n// ValidateToken checks the token signature\nfunc ValidateToken() error { return nil }\n",
		"README.md":     "# Demo\n\nA small folder used by the server tests.\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func requireMCPCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestServer_Tools(t *testing.T) {
	s := newTestServer(t)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.registry)

	assert.Equal(t, ToolIndexFolder, indexFolderTool().Name)
	assert.Equal(t, ToolSearch, searchTool().Name)
	assert.Equal(t, ToolGetStatus, getStatusTool().Name)
	assert.Contains(t, searchTool().InputSchema.Required, "query")
	assert.Contains(t, searchTool().InputSchema.Required, "path")
}

func TestHandlers_IndexSearchStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := newFolder(t)

	status, err := s.handleGetStatus(ctx, callRequest(ToolGetStatus, map[string]interface{}{"path": root}))
	require.NoError(t, err)
	assert.Equal(t, false, decodeResult(t, status)["indexed"])

	indexed, err := s.handleIndexFolder(ctx, callRequest(ToolIndexFolder, map[string]interface{}{"path": root}))
	require.NoError(t, err)
	payload := decodeResult(t, indexed)
	assert.Equal(t, true, payload["indexed"])
	assert.EqualValues(t, 2, payload["files_processed"])
	assert.NotEmpty(t, payload["pass_id"])

	found, err := s.handleSearch(ctx, callRequest(ToolSearch, map[string]interface{}{
		"path":  root,
		"query": "token signature",
		"top_k": float64(3),
	}))
	require.NoError(t, err)
	payload = decodeResult(t, found)
	results, ok := payload["results"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "auth/token.go", first["file_path"])
	assert.Contains(t, first, "keyword_rank")
	assert.NotContains(t, payload, "degraded")

	status, err = s.handleGetStatus(ctx, callRequest(ToolGetStatus, map[string]interface{}{"path": root}))
	require.NoError(t, err)
	payload = decodeResult(t, status)
	assert.Equal(t, true, payload["indexed"])
	assert.Equal(t, false, payload["stale"])
	stats := payload["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["files_count"])

	rebuilt, err := s.handleIndexFolder(ctx, callRequest(ToolIndexFolder, map[string]interface{}{"path": root, "force_rebuild": true}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, rebuilt)["full_rebuild"])
}

func TestHandlers_SearchRefreshOnEmpty(t *testing.T) {
	s := newTestServer(t)
	root := newFolder(t)

	found, err := s.handleSearch(context.Background(), callRequest(ToolSearch, map[string]interface{}{
		"path":    root,
		"query":   "ValidateToken",
		"refresh": "blocking",
	}))
	require.NoError(t, err)
	results := decodeResult(t, found)["results"].([]interface{})
	assert.NotEmpty(t, results)
}

func TestHandlers_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := newFolder(t)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		code    int
	}{
		{"index missing path", s.handleIndexFolder, map[string]interface{}{}, ErrorCodeInvalidParams},
		{"index relative path", s.handleIndexFolder, map[string]interface{}{"path": "relative/dir"}, ErrorCodeInvalidParams},
		{"index missing folder", s.handleIndexFolder, map[string]interface{}{"path": filepath.Join(root, "missing")}, ErrorCodeFolderNotFound},
		{"index file", s.handleIndexFolder, map[string]interface{}{"path": filepath.Join(root, "README.md")}, ErrorCodeFolderNotFound},
		{"search empty query", s.handleSearch, map[string]interface{}{"path": root, "query": ""}, ErrorCodeEmptyQuery},
		{"search blank query", s.handleSearch, map[string]interface{}{"path": root, "query": "   "}, ErrorCodeEmptyQuery},
		{"search top_k too large", s.handleSearch, map[string]interface{}{"path": root, "query": "x", "top_k": float64(500)}, ErrorCodeInvalidParams},
		{"search bad mode", s.handleSearch, map[string]interface{}{"path": root, "query": "x", "search_mode": "fuzzy"}, ErrorCodeInvalidParams},
		{"search bad refresh", s.handleSearch, map[string]interface{}{"path": root, "query": "x", "refresh": "eager"}, ErrorCodeInvalidParams},
		{"status missing path", s.handleGetStatus, map[string]interface{}{}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.handler(ctx, callRequest("tool", tt.args))
			requireMCPCode(t, err, tt.code)
		})
	}
}

func TestToMCPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrEmptyQuery, ErrorCodeEmptyQuery},
		{types.ErrInvalidTopK, ErrorCodeInvalidParams},
		{types.ErrConfiguration, ErrorCodeConfiguration},
		{types.ErrSearchUnavailable, ErrorCodeSearchUnavailable},
		{engine.ErrRegistryClosed, ErrorCodeInternalError},
		{errors.New("boom"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		requireMCPCode(t, toMCPError(tt.err), tt.code)
	}
}

func TestMCPError_Error(t *testing.T) {
	err := newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", nil)
	assert.Equal(t, "MCP error -32004: query cannot be empty", err.Error())
}
