package searcher

import (
	"context"
	"fmt"
	"testing"
)

func benchHits(n int) ([]string, *fakeStore) {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("file%03d.go#%d", i/4, i%4)
	}
	fs := newFakeStore(ids...)
	fs.keyword = kw(ids...)
	rev := make([]string, n)
	for i, id := range ids {
		rev[n-1-i] = id
	}
	fs.vector = vec(rev...)
	return ids, fs
}

func BenchmarkFuse(b *testing.B) {
	_, fs := benchHits(DefaultCandidates)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(fs.keyword, fs.vector, DefaultRRFConstant)
	}
}

func BenchmarkSearch_Uncached(b *testing.B) {
	_, fs := benchHits(DefaultCandidates)
	s := New(fs, &fakeEmbedder{}, Config{CacheSize: -1}, nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, Request{Query: "token"}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch_Cached(b *testing.B) {
	_, fs := benchHits(DefaultCandidates)
	s := New(fs, &fakeEmbedder{}, Config{}, nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, Request{Query: "token"}); err != nil {
			b.Fatal(err)
		}
	}
}
