package storage

import (
	"context"
	"time"

	"github.com/dshills/codesight/pkg/types"
)

// Storage is the dual keyword/vector store of one collection.
// All writes go through a single writer; reads run on a separate pool and
// only ever observe fully committed files.
type Storage interface {
	// Write operations
	ApplyFile(ctx context.Context, change *FileChange) (*ApplyResult, error)
	DeleteFile(ctx context.Context, path string) ([]string, error)
	Purge(ctx context.Context) error
	SetMetadata(ctx context.Context, meta *Metadata) error
	Repair(ctx context.Context) (*VerifyReport, error)

	// Read operations
	GetMetadata(ctx context.Context) (*Metadata, error)
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	ListFiles(ctx context.Context) ([]*FileRecord, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error)
	ScanHashes(ctx context.Context, fn func(id, hash string) error) error
	VectorByChunkID(ctx context.Context, id string) ([]float32, error)
	Stats(ctx context.Context) (*Stats, error)
	Verify(ctx context.Context) (*VerifyReport, error)

	// Search operations
	QueryKeyword(ctx context.Context, query string, n int, glob string) ([]KeywordHit, error)
	QueryVector(ctx context.Context, vector []float32, n int, glob string) ([]VectorHit, error)

	// Generation increases on every committed write
	Generation() uint64

	Path() string
	Close() error
}

// FileRecord tracks one indexed source file
type FileRecord struct {
	Path      string // Relative to the collection root
	ModTime   time.Time
	Size      int64
	ChunkIDs  []string // In ordinal order
	IndexedAt time.Time
}

// Metadata describes a collection as a whole
type Metadata struct {
	RootPath       string
	EmbeddingModel string
	EmbeddingDims  int
	ChunkerVersion int
	LastIndexedAt  time.Time
	LastCommit     string // VCS revision at the last completed pass
}

// FileChange is the complete new state of one file.
// Chunks whose id and hash are already stored are left untouched and need no
// embedding; every other chunk must carry its vector.
type FileChange struct {
	File   FileRecord
	Chunks []types.Chunk
}

// ApplyResult reports what ApplyFile changed
type ApplyResult struct {
	Written   []string // Inserted or replaced chunk ids
	Deleted   []string // Chunk ids removed and not replaced
	Unchanged int
}

// KeywordHit is one BM25-ranked chunk
type KeywordHit struct {
	ChunkID string
	Rank    int     // 1-indexed
	Score   float64 // Higher is better
}

// VectorHit is one cosine-ranked chunk
type VectorHit struct {
	ChunkID string
	Rank    int // 1-indexed
	Score   float64
}

// Stats holds row counts for a collection
type Stats struct {
	Files      int
	Chunks     int
	Embeddings int
}

// VerifyReport lists violations of the dual-store invariant
type VerifyReport struct {
	ChunksWithoutVectors []string
	ChunksWithoutFile    []string
	OrphanVectors        int
	KeywordRows          int
	Chunks               int
}

// OK reports whether the store is consistent
func (r *VerifyReport) OK() bool {
	return len(r.ChunksWithoutVectors) == 0 &&
		len(r.ChunksWithoutFile) == 0 &&
		r.OrphanVectors == 0 &&
		r.KeywordRows == r.Chunks
}
