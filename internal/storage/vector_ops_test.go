package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSearchData(t *testing.T, s *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	files := map[string][]struct {
		content string
		vec     []float32
	}{
		"internal/auth/token.go": {
			{"func RefreshToken refreshes an expired token token", []float32{1, 0, 0}},
			{"func ValidateToken checks the token signature", []float32{0.9, 0.1, 0}},
		},
		"internal/db/pool.go": {
			{"connection pool with idle timeout", []float32{0, 1, 0}},
		},
		"docs/auth.md": {
			{"How token refresh works in the gateway", []float32{0.7, 0, 0.7}},
		},
	}
	for path, chunks := range files {
		change := &FileChange{File: FileRecord{Path: path, Size: 1}}
		for i, c := range chunks {
			change.Chunks = append(change.Chunks, makeChunk(path, i, c.content, c.vec...))
		}
		_, err := s.ApplyFile(ctx, change)
		require.NoError(t, err)
	}
}

func TestQueryKeyword(t *testing.T) {
	s := setupTestDB(t)
	seedSearchData(t, s)
	ctx := context.Background()

	hits, err := s.QueryKeyword(ctx, "token", 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, h := range hits {
		assert.Equal(t, i+1, h.Rank)
	}
	assert.Equal(t, "internal/auth/token.go#0", hits[0].ChunkID, "repeated term ranks first")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	t.Run("glob filter", func(t *testing.T) {
		hits, err := s.QueryKeyword(ctx, "token", 10, "docs/*")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "docs/auth.md#0", hits[0].ChunkID)
	})

	t.Run("terms are OR-ed", func(t *testing.T) {
		hits, err := s.QueryKeyword(ctx, "pool signature", 10, "")
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("limit", func(t *testing.T) {
		hits, err := s.QueryKeyword(ctx, "token", 1, "")
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("operators and punctuation are literal", func(t *testing.T) {
		for _, q := range []string{`token AND "`, `NOT pool*`, `(token) OR NEAR(x)`, `c++ -- ;`} {
			_, err := s.QueryKeyword(ctx, q, 10, "")
			assert.NoError(t, err, q)
		}
	})

	t.Run("nothing searchable", func(t *testing.T) {
		hits, err := s.QueryKeyword(ctx, "  ?! ", 10, "")
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestQueryVector(t *testing.T) {
	s := setupTestDB(t)
	seedSearchData(t, s)
	ctx := context.Background()

	hits, err := s.QueryVector(ctx, []float32{1, 0, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "internal/auth/token.go#0", hits[0].ChunkID)
	assert.Equal(t, "internal/auth/token.go#1", hits[1].ChunkID)
	assert.Equal(t, "docs/auth.md#0", hits[2].ChunkID)
	assert.Equal(t, "internal/db/pool.go#0", hits[3].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	hits, err = s.QueryVector(ctx, []float32{1, 0, 0}, 2, "internal/**")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, hits[1].Rank)

	hits, err = s.QueryVector(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits, "different dimension matches nothing")
}

func TestQueryVector_TieBreakByID(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	for _, path := range []string{"c.go", "a.go", "b.go"} {
		_, err := s.ApplyFile(ctx, fileChange(path, makeChunk(path, 0, "same", 1, 1)))
		require.NoError(t, err)
	}

	hits, err := s.QueryVector(ctx, []float32{1, 1}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a.go#0", "b.go#0", "c.go#0"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
}

func TestBuildMatchQuery(t *testing.T) {
	tests := map[string]string{
		"token refresh":       `"token" OR "refresh"`,
		`Token "token" TOKEN`: `"token"`,
		"NOT pool*":           `"not" OR "pool"`,
		"parse_config(x)":     `"parse" OR "config" OR "x"`,
		"":                    "",
		"--- ;;; ???":         "",
		"héllo wörld":         `"héllo" OR "wörld"`,
	}
	for in, want := range tests {
		assert.Equal(t, want, buildMatchQuery(in), in)
	}
}

func TestSerializeVector(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := SerializeVector(v)
	assert.Len(t, blob, 16)
	assert.Equal(t, v, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
}
