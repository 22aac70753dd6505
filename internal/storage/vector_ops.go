package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// QueryKeyword ranks chunks by BM25 against query. Each query term is quoted
// and terms are OR-ed, so FTS5 operators in the input are matched literally.
// A query with no searchable terms yields no hits. glob, when set, filters
// on the chunk's file path with SQLite GLOB semantics.
func (s *SQLiteStorage) QueryKeyword(ctx context.Context, query string, n int, glob string) ([]KeywordHit, error) {
	match := buildMatchQuery(query)
	if match == "" || n <= 0 {
		return []KeywordHit{}, nil
	}

	sqlQuery := `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts
		INNER JOIN chunks c ON c.rid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}
	if glob != "" {
		sqlQuery += " AND c.file_path GLOB ?"
		args = append(args, glob)
	}
	// BM25 is lower-is-better; id breaks ties deterministically
	sqlQuery += " ORDER BY score, c.id LIMIT ?"
	args = append(args, n)

	rows, err := s.reader.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]KeywordHit, 0, n)
	for rows.Next() {
		var hit KeywordHit
		var bm25 float64
		if err := rows.Scan(&hit.ChunkID, &bm25); err != nil {
			return nil, err
		}
		hit.Score = -bm25
		hit.Rank = len(hits) + 1
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// QueryVector ranks chunks by cosine similarity to vector, computed in Go
// over the stored blobs. Vectors of a different length are ignored.
func (s *SQLiteStorage) QueryVector(ctx context.Context, vector []float32, n int, glob string) ([]VectorHit, error) {
	if len(vector) == 0 || n <= 0 {
		return []VectorHit{}, nil
	}

	query := `
		SELECT c.id, e.vector
		FROM embeddings e
		INNER JOIN chunks c ON c.rid = e.chunk_rid
	`
	var args []interface{}
	if glob != "" {
		query += " WHERE c.file_path GLOB ?"
		args = append(args, glob)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 1024)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if len(blob) != len(vector)*4 {
			continue
		}
		candidates = append(candidates, candidate{chunkID: id, score: cosineSimilarity(vector, deserializeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	hits := make([]VectorHit, len(candidates))
	for i, c := range candidates {
		hits[i] = VectorHit{ChunkID: c.chunkID, Rank: i + 1, Score: c.score}
	}
	return hits, nil
}

// candidate represents a chunk with its similarity score
type candidate struct {
	chunkID string
	score   float64
}

// sortCandidates sorts by score descending, then chunk id ascending
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}

// buildMatchQuery turns free text into an FTS5 query of quoted terms joined
// by OR. Terms are split the way the unicode61 tokenizer splits text, so
// punctuation and FTS5 syntax never reach the parser.
func buildMatchQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
