// Package storage persists a collection's chunks in SQLite and serves both
// retrieval sub-indexes from the same database.
//
// The chunks table is the system of record. An FTS5 external-content table
// (chunks_fts) mirrors it through triggers for BM25 keyword search, and the
// embeddings table holds one float32 vector per chunk for cosine search.
// ApplyFile writes a file's chunks, vectors and file record in a single
// transaction, so a reader never sees a chunk in one sub-index without the
// other.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations
//   - metadata: root path, embedding model and dims, last pass
//   - files: path, mod time, size and chunk ids per indexed file
//   - chunks: chunk text, line span, scope and content hash
//   - chunks_fts: FTS5 keyword index over chunks
//   - embeddings: little-endian float32 vectors keyed by chunk rowid
//
// # Drivers
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags "sqlite_vec sqlite_fts5" switches to github.com/mattn/go-sqlite3.
// Vector scoring runs in Go under both drivers.
//
// # Concurrency
//
// Writes go through a single connection. Reads use a separate pool and see
// WAL snapshots, so queries proceed while a pass is writing. Generation
// increases on every committed write and lets readers detect that a
// multi-query read straddled a commit.
package storage
