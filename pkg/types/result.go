package types

import "time"

// QueryResult is a single ranked search hit. It is never persisted.
type QueryResult struct {
	ChunkID   string
	FilePath  string
	StartLine int
	EndLine   int
	Scope     string

	// Scoring
	FusedScore  float64
	KeywordRank *int // 1-based rank in the keyword list, nil when absent
	VectorRank  *int // 1-based rank in the vector list, nil when absent

	// Content is the chunk text, bounded by the configured max chunk size
	Content string
}

// RefreshMode controls what a search does when the collection is stale
type RefreshMode string

const (
	RefreshNone       RefreshMode = "none"       // Search whatever is indexed
	RefreshBlocking   RefreshMode = "blocking"   // Wait for a fresh pass first
	RefreshBackground RefreshMode = "background" // Start a pass, do not wait
)

// SearchOptions contains parameters for a search
type SearchOptions struct {
	Query    string
	TopK     int
	FileGlob string // Optional glob matched against the relative file path
	Refresh  RefreshMode
}

// Validate checks the search options
func (o *SearchOptions) Validate() error {
	if o.TopK < 0 {
		return ErrInvalidTopK
	}
	switch o.Refresh {
	case "", RefreshNone, RefreshBlocking, RefreshBackground:
		return nil
	default:
		return ErrInvalidRefreshMode
	}
}

// FileFailure records a file skipped during an index pass
type FileFailure struct {
	Path   string
	Reason string
}

// IndexStats summarizes an index pass
type IndexStats struct {
	PassID string

	FilesProcessed int
	FilesUnchanged int
	FilesFailed    int
	FilesDeleted   int

	ChunksWritten int
	ChunksReused  int // Vectors taken from existing chunks with the same hash
	ChunksDeleted int
	ChunksTotal   int

	EmbeddingCalls int
	TextsEmbedded  int

	FullRebuild bool
	Duration    time.Duration
	Failures    []FileFailure
}

// Status describes the state of a collection
type Status struct {
	RootPath       string
	Indexed        bool
	ChunkCount     int
	FileCount      int
	LastIndexedAt  time.Time
	IsStale        bool
	EmbeddingModel string
	EmbeddingDims  int
	LastCommit     string
}
