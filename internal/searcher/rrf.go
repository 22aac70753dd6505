package searcher

import (
	"math"
	"sort"

	"github.com/dshills/codesight/internal/storage"
)

// DefaultRRFConstant is the k in score = Σ 1/(k + rank)
const DefaultRRFConstant = 60

// Fused is one chunk after reciprocal rank fusion
type Fused struct {
	ChunkID     string
	Score       float64
	KeywordRank int // 1-indexed, 0 when absent from the keyword list
	VectorRank  int // 1-indexed, 0 when absent from the vector list
}

// Fuse merges two ranked lists with Reciprocal Rank Fusion:
// score(d) = Σ 1/(k + rank(d)) over the lists containing d.
// Ties break by lower keyword rank, absent ranking last, then by chunk id.
func Fuse(keyword []storage.KeywordHit, vector []storage.VectorHit, k float64) []Fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*Fused, len(keyword)+len(vector))
	order := make([]*Fused, 0, len(keyword)+len(vector))
	get := func(id string) *Fused {
		f, ok := byID[id]
		if !ok {
			f = &Fused{ChunkID: id}
			byID[id] = f
			order = append(order, f)
		}
		return f
	}

	for i, hit := range keyword {
		f := get(hit.ChunkID)
		if f.KeywordRank != 0 {
			continue
		}
		f.KeywordRank = i + 1
	}
	for i, hit := range vector {
		f := get(hit.ChunkID)
		if f.VectorRank != 0 {
			continue
		}
		f.VectorRank = i + 1
	}

	fused := make([]Fused, len(order))
	for i, f := range order {
		if f.KeywordRank > 0 {
			f.Score += 1 / (k + float64(f.KeywordRank))
		}
		if f.VectorRank > 0 {
			f.Score += 1 / (k + float64(f.VectorRank))
		}
		fused[i] = *f
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ak, bk := rankOrLast(a.KeywordRank), rankOrLast(b.KeywordRank); ak != bk {
			return ak < bk
		}
		return a.ChunkID < b.ChunkID
	})
	return fused
}

func rankOrLast(rank int) int {
	if rank == 0 {
		return math.MaxInt
	}
	return rank
}
