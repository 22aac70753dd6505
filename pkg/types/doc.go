// Package types provides shared type definitions for codesight.
//
// These types cross package boundaries: the chunker produces Chunk values, the
// indexer reports IndexStats, the searcher returns QueryResult values and the
// engine reports Status. The error taxonomy in errors.go is shared as well so
// callers can classify failures with errors.Is regardless of which component
// raised them.
//
// # Chunks
//
// A Chunk is the atomic indexed unit. Its ID is derived from the file path and
// the chunk ordinal, so it stays stable while a file is unchanged:
//
//	chunk := types.Chunk{
//	    FilePath:  "internal/auth/token.go",
//	    Ordinal:   3,
//	    StartLine: 40,
//	    EndLine:   72,
//	    Scope:     "function Validate",
//	    Content:   body,
//	}
//	chunk.ID = types.ChunkID(chunk.FilePath, chunk.Ordinal)
//	chunk.ComputeContentHash()
//
// ContentHash covers the context header as well as the content, so moving a
// chunk or changing the header format produces a new hash.
//
// # Errors
//
// ErrConfiguration and ErrConsistency are fatal to the operation that raised
// them. ErrTransientProvider and ErrPerFile are recovered locally by the
// indexer and aggregated into IndexStats.Failures.
package types
