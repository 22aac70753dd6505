package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolIndexFolder = "index_folder"
	ToolSearch      = "search"
	ToolGetStatus   = "get_status"
)

// indexFolderTool returns the tool definition for index_folder
func indexFolderTool() mcp.Tool {
	return mcp.NewTool(
		ToolIndexFolder,
		mcp.WithDescription("Index a local folder so its code and documents can be searched. Unchanged files are skipped."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the folder to index"),
		),
		mcp.WithBoolean("force_rebuild",
			mcp.Description("If true, discard the collection and re-index every file"),
			mcp.DefaultBool(false),
		),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.NewTool(
		ToolSearch,
		mcp.WithDescription("Search an indexed folder with a natural language or keyword query. Combines BM25 keyword and vector similarity rankings."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the indexed folder"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (natural language or keywords)"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(8),
			mcp.Min(1),
			mcp.Max(maxTopK),
		),
		mcp.WithString("file_glob",
			mcp.Description("Optional glob matched against relative file paths (e.g. 'internal/*')"),
		),
		mcp.WithString("refresh",
			mcp.Description("Refresh a stale collection first: none, blocking (wait) or background (do not wait)"),
			mcp.Enum("none", "blocking", "background"),
			mcp.DefaultString("none"),
		),
		mcp.WithString("search_mode",
			mcp.Description("Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)"),
			mcp.Enum("hybrid", "vector", "keyword"),
			mcp.DefaultString("hybrid"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.NewTool(
		ToolGetStatus,
		mcp.WithDescription("Report indexing status and statistics for a folder"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the folder"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
