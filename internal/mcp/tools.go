package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/engine"
	"github.com/dshills/codesight/internal/searcher"
	"github.com/dshills/codesight/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeFolderNotFound    = -32001 // Specified path is not a readable folder
	ErrorCodeConfiguration     = -32002 // Collection cannot be opened with the current configuration
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeSearchUnavailable = -32005 // Neither keyword nor vector search answered
)

const maxTopK = 100

// handleIndexFolder handles the index_folder tool invocation
func (s *Server) handleIndexFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	force := request.GetBool("force_rebuild", false)

	eng, err := s.registry.Get(ctx, path)
	if err != nil {
		return nil, toMCPError(err)
	}

	stats, err := eng.Index(ctx, force)
	if err != nil {
		s.logger.Error("indexing failed", zap.String("path", path), zap.Error(err))
		return nil, toMCPError(err)
	}

	response := map[string]interface{}{
		"indexed":         true,
		"pass_id":         stats.PassID,
		"full_rebuild":    stats.FullRebuild,
		"files_processed": stats.FilesProcessed,
		"files_unchanged": stats.FilesUnchanged,
		"files_failed":    stats.FilesFailed,
		"files_deleted":   stats.FilesDeleted,
		"chunks_written":  stats.ChunksWritten,
		"chunks_reused":   stats.ChunksReused,
		"chunks_deleted":  stats.ChunksDeleted,
		"chunks_total":    stats.ChunksTotal,
		"embedding_calls": stats.EmbeddingCalls,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if len(stats.Failures) > 0 {
		// Include first few failures
		failures := stats.Failures
		if len(failures) > 5 {
			failures = failures[:5]
			response["failure_count"] = len(stats.Failures)
		}
		list := make([]map[string]string, len(failures))
		for i, f := range failures {
			list[i] = map[string]string{"path": f.Path, "reason": f.Reason}
		}
		response["failures"] = list
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchResult is one hit in the search tool response
type searchResult struct {
	ChunkID     string  `json:"chunk_id"`
	FilePath    string  `json:"file_path"`
	StartLine   int     `json:"start_line"`
	EndLine     int     `json:"end_line"`
	Scope       string  `json:"scope,omitempty"`
	Score       float64 `json:"score"`
	KeywordRank *int    `json:"keyword_rank,omitempty"`
	VectorRank  *int    `json:"vector_rank,omitempty"`
	Content     string  `json:"content"`
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}

	query := request.GetString("query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := request.GetInt("top_k", 0)
	if topK < 0 || topK > maxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", maxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	refresh := types.RefreshMode(request.GetString("refresh", string(types.RefreshNone)))
	mode := searcher.SearchMode(request.GetString("search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	eng, err := s.registry.Get(ctx, path)
	if err != nil {
		return nil, toMCPError(err)
	}

	resp, err := eng.SearchDetailed(ctx, types.SearchOptions{
		Query:    query,
		TopK:     topK,
		FileGlob: request.GetString("file_glob", ""),
		Refresh:  refresh,
	}, mode)
	if err != nil {
		return nil, toMCPError(err)
	}

	results := make([]searchResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = searchResult{
			ChunkID:     r.ChunkID,
			FilePath:    r.FilePath,
			StartLine:   r.StartLine,
			EndLine:     r.EndLine,
			Scope:       r.Scope,
			Score:       r.FusedScore,
			KeywordRank: r.KeywordRank,
			VectorRank:  r.VectorRank,
			Content:     r.Content,
		}
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_results": len(results),
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if resp.Degraded != "" {
		response["degraded"] = resp.Degraded
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}

	eng, err := s.registry.Get(ctx, path)
	if err != nil {
		return nil, toMCPError(err)
	}
	status, err := eng.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if !status.Indexed {
		response := map[string]interface{}{
			"indexed": false,
			"path":    status.RootPath,
			"message": "Folder not indexed. Use the index_folder tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	response := map[string]interface{}{
		"indexed":         true,
		"path":            status.RootPath,
		"last_indexed_at": status.LastIndexedAt.Format(time.RFC3339),
		"stale":           status.IsStale,
		"indexing":        eng.Indexing(),
		"statistics": map[string]interface{}{
			"files_count":  status.FileCount,
			"chunks_count": status.ChunkCount,
		},
		"embedding": map[string]interface{}{
			"model": status.EmbeddingModel,
			"dims":  status.EmbeddingDims,
		},
	}
	if status.LastCommit != "" {
		response["last_commit"] = status.LastCommit
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// requirePath extracts and validates the path parameter
func requirePath(request mcp.CallToolRequest) (string, error) {
	path := request.GetString("path", "")
	if path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrNotDirectory) {
			code = ErrorCodeFolderNotFound
		}
		return "", newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return path, nil
}

// toMCPError maps engine errors onto MCP error codes
func toMCPError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", data)
	case errors.Is(err, types.ErrInvalidTopK), errors.Is(err, types.ErrInvalidRefreshMode):
		return newMCPError(ErrorCodeInvalidParams, "invalid parameters", data)
	case errors.Is(err, types.ErrConfiguration):
		return newMCPError(ErrorCodeConfiguration, "configuration error", data)
	case errors.Is(err, types.ErrSearchUnavailable):
		return newMCPError(ErrorCodeSearchUnavailable, "search unavailable", data)
	case errors.Is(err, engine.ErrRegistryClosed):
		return newMCPError(ErrorCodeInternalError, "server is shutting down", data)
	default:
		return newMCPError(ErrorCodeInternalError, "operation failed", data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
