// Package mcp implements the Model Context Protocol (MCP) server for codesight.
//
// The MCP server exposes three tools to AI coding assistants:
//   - index_folder: Index a local folder for hybrid search
//   - search: Search an indexed folder with natural language or keywords
//   - get_status: Check indexing status and statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout is reserved for protocol messages; logs go to stderr.
//
// # Basic Usage
//
//	codesight serve
//
// # Tool: index_folder
//
//	Request:
//	{
//	  "name": "index_folder",
//	  "arguments": {"path": "/path/to/folder", "force_rebuild": false}
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "files_processed": 12,
//	  "files_unchanged": 235,
//	  "chunks_written": 48,
//	  "embedding_calls": 1,
//	  "duration_ms": 812
//	}
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "path": "/path/to/folder",
//	    "query": "where are tokens validated",
//	    "top_k": 5,
//	    "file_glob": "internal/*",
//	    "refresh": "background"
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "chunk_id": "internal/auth/token.go#0",
//	      "file_path": "internal/auth/token.go",
//	      "start_line": 1,
//	      "end_line": 24,
//	      "scope": "function ValidateToken",
//	      "score": 0.0325,
//	      "keyword_rank": 1,
//	      "vector_rank": 2,
//	      "content": "..."
//	    }
//	  ],
//	  "total_results": 1
//	}
//
// A "degraded" field names a sub-index that failed to answer.
//
// # Tool: get_status
//
//	Request:  {"name": "get_status", "arguments": {"path": "/path/to/folder"}}
//	Response: {"indexed": true, "stale": false, "statistics": {...}, "embedding": {...}}
//
// # Errors
//
// Handlers return *MCPError values carrying JSON-RPC style codes:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  folder not found
//	-32002  configuration error
//	-32004  empty query
//	-32005  search unavailable
package mcp
