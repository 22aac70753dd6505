package searcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesight/internal/storage"
)

func kw(ids ...string) []storage.KeywordHit {
	hits := make([]storage.KeywordHit, len(ids))
	for i, id := range ids {
		hits[i] = storage.KeywordHit{ChunkID: id, Rank: i + 1}
	}
	return hits
}

func vec(ids ...string) []storage.VectorHit {
	hits := make([]storage.VectorHit, len(ids))
	for i, id := range ids {
		hits[i] = storage.VectorHit{ChunkID: id, Rank: i + 1}
	}
	return hits
}

func fusedIDs(fused []Fused) []string {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	return ids
}

func TestFuse_Example(t *testing.T) {
	fused := Fuse(kw("A", "B", "C"), vec("B", "D", "A"), 60)
	require.Equal(t, []string{"B", "A", "D", "C"}, fusedIDs(fused))

	byID := map[string]Fused{}
	for _, f := range fused {
		byID[f.ChunkID] = f
	}
	assert.InDelta(t, 1.0/62+1.0/61, byID["B"].Score, 1e-12)
	assert.InDelta(t, 1.0/61+1.0/63, byID["A"].Score, 1e-12)
	assert.InDelta(t, 1.0/62, byID["D"].Score, 1e-12)
	assert.InDelta(t, 1.0/63, byID["C"].Score, 1e-12)

	assert.Equal(t, 2, byID["B"].KeywordRank)
	assert.Equal(t, 1, byID["B"].VectorRank)
	assert.Equal(t, 0, byID["D"].KeywordRank)
	assert.Equal(t, 0, byID["C"].VectorRank)
}

func TestFuse_TieBreaks(t *testing.T) {
	t.Run("keyword rank wins equal scores", func(t *testing.T) {
		fused := Fuse(kw("X", "Y"), vec("Y", "X"), 60)
		require.Equal(t, fused[0].Score, fused[1].Score)
		assert.Equal(t, []string{"X", "Y"}, fusedIDs(fused))
	})

	t.Run("absent keyword rank sorts last", func(t *testing.T) {
		fused := Fuse(kw("K"), vec("V"), 60)
		require.Equal(t, fused[0].Score, fused[1].Score)
		assert.Equal(t, []string{"K", "V"}, fusedIDs(fused))
	})

	t.Run("chunk id breaks the rest", func(t *testing.T) {
		fused := Fuse(kw("b", "a"), vec("a", "b"), 60)
		// b: keyword 1, vector 2; a: keyword 2, vector 1
		assert.Equal(t, []string{"b", "a"}, fusedIDs(fused))

		fused = Fuse(nil, vec("z", "y"), 60)
		assert.Equal(t, []string{"z", "y"}, fusedIDs(fused), "scores differ, id not consulted")
	})
}

func TestFuse_EdgeCases(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, 60))

	only := Fuse(kw("A", "B"), nil, 60)
	assert.Equal(t, []string{"A", "B"}, fusedIDs(only))
	assert.InDelta(t, 1.0/61, only[0].Score, 1e-12)

	dup := Fuse(kw("A", "A"), nil, 60)
	require.Len(t, dup, 1)
	assert.Equal(t, 1, dup[0].KeywordRank)

	def := Fuse(kw("A"), nil, 0)
	assert.InDelta(t, 1.0/61, def[0].Score, 1e-12, "k defaults to 60")

	small := Fuse(kw("A"), vec("A"), 1)
	assert.InDelta(t, 1.0, small[0].Score, 1e-12)
}

func TestFuse_Deterministic(t *testing.T) {
	a := Fuse(kw("c", "a", "e", "b"), vec("d", "b", "a", "f"), 60)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a, Fuse(kw("c", "a", "e", "b"), vec("d", "b", "a", "f"), 60))
	}
}
