package types

import "errors"

// Error taxonomy shared by all components
var (
	// ErrConfiguration covers bad root paths, invalid models and dimension mismatches
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientProvider is returned once an embedding batch exhausts its retries
	ErrTransientProvider = errors.New("embedding provider unavailable")
	// ErrPerFile marks a file that could not be read, parsed or embedded
	ErrPerFile = errors.New("file skipped")
	// ErrConsistency is returned when a store write fails and the pass is aborted
	ErrConsistency = errors.New("store consistency error")
	// ErrSearchUnavailable is returned when neither sub-index can answer
	ErrSearchUnavailable = errors.New("search unavailable")
)

// Validation errors
var (
	ErrInvalidChunkID     = errors.New("invalid chunk ID")
	ErrEmptyContent       = errors.New("content cannot be empty")
	ErrEmptyQuery         = errors.New("query cannot be empty")
	ErrInvalidTopK        = errors.New("top_k must be >= 0")
	ErrInvalidRefreshMode = errors.New("invalid refresh mode")
)
