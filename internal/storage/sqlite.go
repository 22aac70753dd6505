package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codesight/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrMissingVector is returned when a chunk to be written has no embedding
	ErrMissingVector = errors.New("chunk has no embedding")
	// ErrDimensionMismatch is returned when a vector's length differs from the collection's
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Metadata keys
const (
	metaRootPath       = "root_path"
	metaEmbeddingModel = "embedding_model"
	metaEmbeddingDims  = "embedding_dims"
	metaChunkerVersion = "chunker_version"
	metaLastIndexedAt  = "last_indexed_at"
	metaLastCommit     = "last_commit"
)

const defaultReadConns = 4

// SQLiteStorage implements Storage on one SQLite database file
type SQLiteStorage struct {
	path   string
	writer *sql.DB // Single connection, serialises writes
	reader *sql.DB // Read pool, WAL snapshots
	logger *zap.Logger

	generation atomic.Uint64

	hookMu    sync.Mutex
	writeHook func(path string) error
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(DriverName, buildDSN(dbPath))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath and
// applies pending migrations. dbPath must be a file; in-memory databases
// cannot be shared between the writer and the read pool.
func NewSQLiteStorage(dbPath string, logger *zap.Logger) (*SQLiteStorage, error) {
	if dbPath == "" || strings.HasPrefix(dbPath, ":memory:") {
		return nil, fmt.Errorf("%w: storage requires a database file", types.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	writer, err := openDatabase(dbPath, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations before readers see the schema
	if err := ApplyMigrations(context.Background(), writer); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	reader, err := openDatabase(dbPath, defaultReadConns)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}

	return &SQLiteStorage{
		path:   dbPath,
		writer: writer,
		reader: reader,
		logger: logger.Named("storage"),
	}, nil
}

// Close closes both connection pools
func (s *SQLiteStorage) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Generation returns a counter that increases on every committed write
func (s *SQLiteStorage) Generation() uint64 {
	return s.generation.Load()
}

// SetWriteHook installs fn to run inside ApplyFile after the chunk rows are
// inserted and before vectors are written. A non-nil error aborts the write.
// Intended for fault injection; pass nil to remove.
func (s *SQLiteStorage) SetWriteHook(fn func(path string) error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.writeHook = fn
}

func (s *SQLiteStorage) hook() func(path string) error {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return s.writeHook
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a writer transaction and bumps the generation on commit
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.generation.Add(1)
	return nil
}

// File write operations

type storedChunk struct {
	rid  int64
	hash string
}

// ApplyFile replaces a file's chunks, vectors and record in one transaction.
// Chunks already stored with the same id and hash are kept as they are.
// Any failure rolls the whole file back and wraps types.ErrConsistency.
func (s *SQLiteStorage) ApplyFile(ctx context.Context, change *FileChange) (*ApplyResult, error) {
	path := change.File.Path
	result := &ApplyResult{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.fileChunksWithQuerier(ctx, tx, path)
		if err != nil {
			return err
		}
		dims, err := s.metaIntWithQuerier(ctx, tx, metaEmbeddingDims)
		if err != nil {
			return err
		}

		keep := make(map[string]bool, len(change.Chunks))
		for _, c := range change.Chunks {
			keep[c.ID] = true
		}
		for id, old := range existing {
			if keep[id] {
				continue
			}
			if err := deleteChunkWithQuerier(ctx, tx, old.rid); err != nil {
				return err
			}
			result.Deleted = append(result.Deleted, id)
		}

		type pending struct {
			rid    int64
			vector []float32
		}
		var vectors []pending
		chunkIDs := make([]string, 0, len(change.Chunks))

		for i := range change.Chunks {
			c := &change.Chunks[i]
			chunkIDs = append(chunkIDs, c.ID)

			if old, ok := existing[c.ID]; ok {
				if old.hash == c.ContentHash {
					result.Unchanged++
					continue
				}
				if err := deleteChunkWithQuerier(ctx, tx, old.rid); err != nil {
					return err
				}
			}

			if len(c.Embedding) == 0 {
				return fmt.Errorf("%w: %s", ErrMissingVector, c.ID)
			}
			if dims > 0 && len(c.Embedding) != dims {
				return fmt.Errorf("%w: %s has %d dims, collection has %d", ErrDimensionMismatch, c.ID, len(c.Embedding), dims)
			}

			rid, err := insertChunkWithQuerier(ctx, tx, c)
			if err != nil {
				return err
			}
			vectors = append(vectors, pending{rid: rid, vector: c.Embedding})
			result.Written = append(result.Written, c.ID)
		}

		if hook := s.hook(); hook != nil {
			if err := hook(path); err != nil {
				return err
			}
		}

		for _, v := range vectors {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO embeddings (chunk_rid, vector, dims) VALUES (?, ?, ?)",
				v.rid, serializeVector(v.vector), len(v.vector)); err != nil {
				return fmt.Errorf("failed to insert embedding: %w", err)
			}
		}

		record := change.File
		record.ChunkIDs = chunkIDs
		return upsertFileWithQuerier(ctx, tx, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: apply %s: %w", types.ErrConsistency, path, err)
	}
	return result, nil
}

// DeleteFile removes a file record together with its chunks and vectors
func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) ([]string, error) {
	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.fileChunksWithQuerier(ctx, tx, path)
		if err != nil {
			return err
		}
		for id, old := range existing {
			if err := deleteChunkWithQuerier(ctx, tx, old.rid); err != nil {
				return err
			}
			removed = append(removed, id)
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: delete %s: %w", types.ErrConsistency, path, err)
	}
	return removed, nil
}

// Purge deletes every file, chunk and vector and resets the collection
// metadata except its root path
func (s *SQLiteStorage) Purge(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM embeddings",
			"DELETE FROM chunks",
			"DELETE FROM files",
			"INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')",
			"DELETE FROM metadata WHERE key <> '" + metaRootPath + "'",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: purge: %w", types.ErrConsistency, err)
	}
	s.logger.Info("collection purged", zap.String("path", s.path))
	return nil
}

func (s *SQLiteStorage) fileChunksWithQuerier(ctx context.Context, q querier, path string) (map[string]storedChunk, error) {
	rows, err := q.QueryContext(ctx, "SELECT rid, id, content_hash FROM chunks WHERE file_path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]storedChunk)
	for rows.Next() {
		var id string
		var sc storedChunk
		if err := rows.Scan(&sc.rid, &id, &sc.hash); err != nil {
			return nil, err
		}
		out[id] = sc
	}
	return out, rows.Err()
}

func insertChunkWithQuerier(ctx context.Context, q querier, c *types.Chunk) (int64, error) {
	query := `
		INSERT INTO chunks (id, file_path, ordinal, start_line, end_line, scope, language, content, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.ExecContext(ctx, query,
		c.ID, c.FilePath, c.Ordinal, c.StartLine, c.EndLine,
		c.Scope, c.Language, c.Content, c.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
	}
	return res.LastInsertId()
}

// deleteChunkWithQuerier removes a chunk from both sub-indexes
func deleteChunkWithQuerier(ctx context.Context, q querier, rid int64) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM embeddings WHERE chunk_rid = ?", rid); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE rid = ?", rid); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func upsertFileWithQuerier(ctx context.Context, q querier, f *FileRecord) error {
	ids, err := json.Marshal(f.ChunkIDs)
	if err != nil {
		return err
	}
	indexedAt := f.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	query := `
		INSERT INTO files (path, mod_time, size, chunk_ids, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mod_time = excluded.mod_time,
			size = excluded.size,
			chunk_ids = excluded.chunk_ids,
			indexed_at = excluded.indexed_at
	`
	if _, err := q.ExecContext(ctx, query, f.Path, toNanos(f.ModTime), f.Size, string(ids), toNanos(indexedAt)); err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// File read operations

const fileColumns = "path, mod_time, size, chunk_ids, indexed_at"

func scanFile(scan func(dest ...interface{}) error) (*FileRecord, error) {
	var f FileRecord
	var modTime, indexedAt int64
	var ids string
	if err := scan(&f.Path, &modTime, &f.Size, &ids, &indexedAt); err != nil {
		return nil, err
	}
	f.ModTime = fromNanos(modTime)
	f.IndexedAt = fromNanos(indexedAt)
	if err := json.Unmarshal([]byte(ids), &f.ChunkIDs); err != nil {
		return nil, fmt.Errorf("corrupt chunk list for %s: %w", f.Path, err)
	}
	return &f, nil
}

// GetFile returns the record for path or ErrNotFound
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	row := s.reader.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE path = ?", path)
	f, err := scanFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// ListFiles returns every file record ordered by path
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.reader.QueryContext(ctx, "SELECT "+fileColumns+" FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Chunk read operations

// GetChunks returns the stored chunks for ids. Missing ids are absent from
// the map. Embeddings are not loaded.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	out := make(map[string]*types.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT id, file_path, ordinal, start_line, end_line, scope, language, content, content_hash
		FROM chunks WHERE id IN (` + placeholders + `)`
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Ordinal, &c.StartLine, &c.EndLine,
			&c.Scope, &c.Language, &c.Content, &c.ContentHash); err != nil {
			return nil, err
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// ScanHashes calls fn for every stored (chunk id, content hash) pair
func (s *SQLiteStorage) ScanHashes(ctx context.Context, fn func(id, hash string) error) error {
	rows, err := s.reader.QueryContext(ctx, "SELECT id, content_hash FROM chunks")
	if err != nil {
		return fmt.Errorf("failed to scan hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return err
		}
		if err := fn(id, hash); err != nil {
			return err
		}
	}
	return rows.Err()
}

// VectorByChunkID returns the stored vector of a chunk or ErrNotFound
func (s *SQLiteStorage) VectorByChunkID(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.reader.QueryRowContext(ctx, `
		SELECT e.vector FROM embeddings e
		INNER JOIN chunks c ON c.rid = e.chunk_rid
		WHERE c.id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return deserializeVector(blob), nil
}

// Stats returns row counts
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.reader.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM embeddings)
	`).Scan(&st.Files, &st.Chunks, &st.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return &st, nil
}

// Metadata operations

// GetMetadata returns the collection metadata; unset fields are zero
func (s *SQLiteStorage) GetMetadata(ctx context.Context) (*Metadata, error) {
	rows, err := s.reader.QueryContext(ctx, "SELECT key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var m Metadata
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case metaRootPath:
			m.RootPath = value
		case metaEmbeddingModel:
			m.EmbeddingModel = value
		case metaEmbeddingDims:
			m.EmbeddingDims, _ = strconv.Atoi(value)
		case metaChunkerVersion:
			m.ChunkerVersion, _ = strconv.Atoi(value)
		case metaLastIndexedAt:
			n, _ := strconv.ParseInt(value, 10, 64)
			m.LastIndexedAt = fromNanos(n)
		case metaLastCommit:
			m.LastCommit = value
		}
	}
	return &m, rows.Err()
}

// SetMetadata stores every metadata field
func (s *SQLiteStorage) SetMetadata(ctx context.Context, m *Metadata) error {
	values := map[string]string{
		metaRootPath:       m.RootPath,
		metaEmbeddingModel: m.EmbeddingModel,
		metaEmbeddingDims:  strconv.Itoa(m.EmbeddingDims),
		metaChunkerVersion: strconv.Itoa(m.ChunkerVersion),
		metaLastIndexedAt:  strconv.FormatInt(toNanos(m.LastIndexedAt), 10),
		metaLastCommit:     m.LastCommit,
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set metadata %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) metaIntWithQuerier(ctx context.Context, q querier, key string) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(value)
	return n, nil
}

// Consistency

// Verify reports chunks without vectors, vectors without chunks, chunks
// without a file record and keyword rows out of step with chunks
func (s *SQLiteStorage) Verify(ctx context.Context) (*VerifyReport, error) {
	return verifyWithQuerier(ctx, s.reader)
}

func verifyWithQuerier(ctx context.Context, q querier) (*VerifyReport, error) {
	var r VerifyReport
	var err error

	r.ChunksWithoutVectors, err = queryIDs(ctx, q, `
		SELECT c.id FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_rid = c.rid
		WHERE e.chunk_rid IS NULL ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	r.ChunksWithoutFile, err = queryIDs(ctx, q, `
		SELECT c.id FROM chunks c
		LEFT JOIN files f ON f.path = c.file_path
		WHERE f.path IS NULL ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	err = q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM embeddings e LEFT JOIN chunks c ON c.rid = e.chunk_rid WHERE c.rid IS NULL),
			(SELECT COUNT(*) FROM chunks_fts_docsize),
			(SELECT COUNT(*) FROM chunks)
	`).Scan(&r.OrphanVectors, &r.KeywordRows, &r.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to verify store: %w", err)
	}
	return &r, nil
}

// Repair removes chunks and vectors that violate the dual-store invariant,
// rebuilds the keyword index and marks affected files for re-indexing.
// It returns what it found before repairing.
func (s *SQLiteStorage) Repair(ctx context.Context) (*VerifyReport, error) {
	var report *VerifyReport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		report, err = verifyWithQuerier(ctx, tx)
		if err != nil {
			return err
		}
		if report.OK() {
			return nil
		}

		stmts := []string{
			// Files that lose chunks get a zero mod time so the next pass re-indexes them
			`UPDATE files SET mod_time = 0 WHERE path IN (
				SELECT c.file_path FROM chunks c
				LEFT JOIN embeddings e ON e.chunk_rid = c.rid
				WHERE e.chunk_rid IS NULL)`,
			`DELETE FROM chunks WHERE rid IN (
				SELECT c.rid FROM chunks c
				LEFT JOIN embeddings e ON e.chunk_rid = c.rid
				WHERE e.chunk_rid IS NULL)`,
			`DELETE FROM embeddings WHERE chunk_rid NOT IN (SELECT rid FROM chunks)`,
			`DELETE FROM embeddings WHERE chunk_rid IN (
				SELECT c.rid FROM chunks c
				LEFT JOIN files f ON f.path = c.file_path
				WHERE f.path IS NULL)`,
			`DELETE FROM chunks WHERE file_path NOT IN (SELECT path FROM files)`,
			`INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("repair: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConsistency, err)
	}
	if !report.OK() {
		s.logger.Warn("store repaired",
			zap.Int("chunks_without_vectors", len(report.ChunksWithoutVectors)),
			zap.Int("chunks_without_file", len(report.ChunksWithoutFile)),
			zap.Int("orphan_vectors", report.OrphanVectors),
			zap.Int("keyword_rows", report.KeywordRows),
			zap.Int("chunks", report.Chunks))
	}
	return report, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Timestamps are stored as unix nanoseconds; zero means unset

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
