// Package indexer keeps a collection's dual store in step with the files
// under its root.
//
// A pass walks the root, diffs the walk against the stored file records,
// then streams dirty files through three stages:
//
//  1. Extract and chunk, on a bounded worker pool.
//  2. Resolve vectors. Chunks the ledger already holds under the same id and
//     hash are left alone, hashes stored under another id reuse that vector,
//     and the rest are embedded in batches that span files. Each distinct
//     hash is embedded at most once per pass.
//  3. Commit each file in one store transaction once all its vectors are
//     present, then mirror the change into the ledger.
//
// Files missing from the walk are pruned at the end of the pass.
//
// # Change detection
//
// A file is dirty when it has no record or its mod time or size differ.
// In a git work tree, files changed since the commit recorded by the last
// pass are dirty too. When more than LargeChangeFraction of the walk is
// dirty every file is re-chunked; unchanged chunks are still skipped.
//
// A change of embedding model, dims or chunk header layout purges the
// collection and rebuilds it, as does a forced pass.
//
// # Failures
//
// Extract, chunk and embed failures mark only that file as failed. Its
// previous chunks stay searchable and the file stays dirty for the next
// pass. A failed store write aborts the pass with types.ErrConsistency and
// leaves LastIndexedAt untouched.
package indexer
