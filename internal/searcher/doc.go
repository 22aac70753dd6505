// Package searcher answers hybrid queries over a collection's dual store.
//
// A hybrid search asks the keyword (BM25) and vector (cosine) sub-indexes
// for their top candidates concurrently, then merges the two rankings with
// Reciprocal Rank Fusion:
//
//	score(d) = Σ 1/(k + rank(d))
//
// with k = 60 by default and ranks starting at 1. Ties break by lower
// keyword rank, with chunks absent from the keyword list last, then by
// chunk id. Only the top results are hydrated, from a single store read.
//
// # Degradation
//
// A sub-query that fails or times out contributes an empty list and the
// response names it in Degraded. When both fail the search returns
// types.ErrSearchUnavailable. Keyword and vector modes consult one
// sub-index and fail the same way when it does.
//
// # Consistency
//
// Each sub-query reads a committed snapshot. If the store generation moves
// while a query runs, the query is retried once. Responses are cached per
// store generation, so a commit invalidates them.
package searcher
