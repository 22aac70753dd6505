package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesight/internal/embedder"
	"github.com/dshills/codesight/internal/storage"
	"github.com/dshills/codesight/pkg/types"
)

// fakeStore serves canned rankings
type fakeStore struct {
	mu          sync.Mutex
	keyword     []storage.KeywordHit
	vector      []storage.VectorHit
	chunks      map[string]*types.Chunk
	keywordErr  error
	vectorErr   error
	keywordWait time.Duration
	vectorWait  time.Duration
	gen         atomic.Uint64
	bumpOnce    atomic.Bool // bump generation during the next keyword query

	keywordCalls atomic.Int32
	vectorCalls  atomic.Int32
	chunkCalls   atomic.Int32
}

func newFakeStore(ids ...string) *fakeStore {
	fs := &fakeStore{chunks: make(map[string]*types.Chunk)}
	for i, id := range ids {
		fs.chunks[id] = &types.Chunk{
			ID:        id,
			FilePath:  "src/" + id + ".go",
			StartLine: i*10 + 1,
			EndLine:   i*10 + 9,
			Scope:     "func " + id,
			Content:   "content of " + id,
		}
	}
	return fs
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeStore) QueryKeyword(ctx context.Context, query string, n int, glob string) ([]storage.KeywordHit, error) {
	f.keywordCalls.Add(1)
	if f.bumpOnce.CompareAndSwap(true, false) {
		f.gen.Add(1)
	}
	if err := wait(ctx, f.keywordWait); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	if len(f.keyword) > n {
		return f.keyword[:n], nil
	}
	return f.keyword, nil
}

func (f *fakeStore) QueryVector(ctx context.Context, vector []float32, n int, glob string) ([]storage.VectorHit, error) {
	f.vectorCalls.Add(1)
	if err := wait(ctx, f.vectorWait); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	if len(f.vector) > n {
		return f.vector[:n], nil
	}
	return f.vector, nil
}

func (f *fakeStore) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	f.chunkCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*types.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) Generation() uint64 { return f.gen.Load() }

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

func resultIDs(results []types.QueryResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func TestSearch_HybridFusion(t *testing.T) {
	fs := newFakeStore("A", "B", "C", "D")
	fs.keyword = kw("A", "B", "C")
	fs.vector = vec("B", "D", "A")
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "token", TopK: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "A", "D", "C"}, resultIDs(resp.Results))
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, 3, resp.KeywordHits)
	assert.Equal(t, 3, resp.VectorHits)
	assert.EqualValues(t, 1, fs.chunkCalls.Load(), "results hydrated with one read")

	b := resp.Results[0]
	assert.Equal(t, "src/B.go", b.FilePath)
	assert.Equal(t, 11, b.StartLine)
	assert.Equal(t, "func B", b.Scope)
	assert.Equal(t, "content of B", b.Content)
	require.NotNil(t, b.KeywordRank)
	require.NotNil(t, b.VectorRank)
	assert.Equal(t, 2, *b.KeywordRank)
	assert.Equal(t, 1, *b.VectorRank)
	assert.InDelta(t, 1.0/62+1.0/61, b.FusedScore, 1e-12)

	d := resp.Results[2]
	assert.Nil(t, d.KeywordRank)
	require.NotNil(t, d.VectorRank)
	assert.Equal(t, 2, *d.VectorRank)

	c := resp.Results[3]
	assert.Nil(t, c.VectorRank)
}

func TestSearch_TopK(t *testing.T) {
	fs := newFakeStore("A", "B", "C", "D")
	fs.keyword = kw("A", "B", "C")
	fs.vector = vec("B", "D", "A")
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "token", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, resultIDs(resp.Results))

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].FusedScore, resp.Results[i].FusedScore)
	}
}

func TestSearch_DefaultTopK(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	fs := newFakeStore(ids...)
	fs.keyword = kw(ids...)
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "x"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultTopK)
}

func TestSearch_Validation(t *testing.T) {
	s := New(newFakeStore(), &fakeEmbedder{}, Config{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty query", Request{Query: ""}, types.ErrEmptyQuery},
		{"blank query", Request{Query: "  \t\n"}, types.ErrEmptyQuery},
		{"negative top k", Request{Query: "x", TopK: -1}, types.ErrInvalidTopK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := s.Search(ctx, Request{Query: "x", Mode: "fuzzy"})
	assert.Error(t, err)
}

func TestSearch_MissingChunksDropped(t *testing.T) {
	fs := newFakeStore("A", "C")
	fs.keyword = kw("A", "B", "C")
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "x", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, resultIDs(resp.Results))
}

func TestSearch_Degradation(t *testing.T) {
	ctx := context.Background()

	t.Run("keyword failure", func(t *testing.T) {
		fs := newFakeStore("A", "B")
		fs.keywordErr = errors.New("fts5 unavailable")
		fs.vector = vec("B", "A")
		s := New(fs, &fakeEmbedder{}, Config{}, nil)

		resp, err := s.Search(ctx, Request{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, "keyword", resp.Degraded)
		assert.Equal(t, []string{"B", "A"}, resultIDs(resp.Results))
		assert.Nil(t, resp.Results[0].KeywordRank)
	})

	t.Run("embedding failure", func(t *testing.T) {
		fs := newFakeStore("A", "B")
		fs.keyword = kw("A", "B")
		fs.vector = vec("B")
		s := New(fs, &fakeEmbedder{err: errors.New("provider down")}, Config{}, nil)

		resp, err := s.Search(ctx, Request{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, "vector", resp.Degraded)
		assert.Equal(t, []string{"A", "B"}, resultIDs(resp.Results))
		assert.EqualValues(t, 0, fs.vectorCalls.Load())
	})

	t.Run("vector timeout", func(t *testing.T) {
		fs := newFakeStore("A")
		fs.keyword = kw("A")
		fs.vector = vec("A")
		fs.vectorWait = 2 * time.Second
		s := New(fs, &fakeEmbedder{}, Config{Timeout: 50 * time.Millisecond}, nil)

		resp, err := s.Search(ctx, Request{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, "vector", resp.Degraded)
		assert.Equal(t, []string{"A"}, resultIDs(resp.Results))
	})

	t.Run("both fail", func(t *testing.T) {
		fs := newFakeStore()
		fs.keywordErr = errors.New("keyword broken")
		fs.vectorErr = errors.New("vector broken")
		s := New(fs, &fakeEmbedder{}, Config{}, nil)

		_, err := s.Search(ctx, Request{Query: "x"})
		assert.ErrorIs(t, err, types.ErrSearchUnavailable)
	})

	t.Run("one fails and one times out", func(t *testing.T) {
		fs := newFakeStore()
		fs.keywordErr = errors.New("keyword broken")
		fs.vectorWait = 2 * time.Second
		s := New(fs, &fakeEmbedder{}, Config{Timeout: 50 * time.Millisecond}, nil)

		_, err := s.Search(ctx, Request{Query: "x"})
		assert.ErrorIs(t, err, types.ErrSearchUnavailable)
	})

	t.Run("single mode failure", func(t *testing.T) {
		fs := newFakeStore()
		fs.keywordErr = errors.New("keyword broken")
		s := New(fs, &fakeEmbedder{}, Config{}, nil)

		_, err := s.Search(ctx, Request{Query: "x", Mode: SearchModeKeyword})
		assert.ErrorIs(t, err, types.ErrSearchUnavailable)
	})

	t.Run("degraded responses are not cached", func(t *testing.T) {
		fs := newFakeStore("A")
		fs.keyword = kw("A")
		fs.vectorErr = errors.New("flaky")
		s := New(fs, &fakeEmbedder{}, Config{}, nil)

		_, err := s.Search(ctx, Request{Query: "x"})
		require.NoError(t, err)
		resp, err := s.Search(ctx, Request{Query: "x"})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	})
}

func TestSearch_CallerCancellation(t *testing.T) {
	fs := newFakeStore("A")
	fs.keywordWait = time.Second
	fs.vectorWait = time.Second
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Search(ctx, Request{Query: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_Modes(t *testing.T) {
	ctx := context.Background()

	t.Run("keyword skips the embedder", func(t *testing.T) {
		fs := newFakeStore("A", "B")
		fs.keyword = kw("A")
		fs.vector = vec("B")
		emb := &fakeEmbedder{}
		s := New(fs, emb, Config{}, nil)

		resp, err := s.Search(ctx, Request{Query: "x", Mode: SearchModeKeyword})
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, resultIDs(resp.Results))
		assert.EqualValues(t, 0, emb.calls.Load())
		assert.EqualValues(t, 0, fs.vectorCalls.Load())
	})

	t.Run("vector skips keyword", func(t *testing.T) {
		fs := newFakeStore("A", "B")
		fs.keyword = kw("A")
		fs.vector = vec("B")
		s := New(fs, &fakeEmbedder{}, Config{}, nil)

		resp, err := s.Search(ctx, Request{Query: "x", Mode: SearchModeVector})
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, resultIDs(resp.Results))
		assert.EqualValues(t, 0, fs.keywordCalls.Load())
	})
}

func TestSearch_Cache(t *testing.T) {
	fs := newFakeStore("A", "B")
	fs.keyword = kw("A", "B")
	fs.vector = vec("B", "A")
	s := New(fs, &fakeEmbedder{}, Config{}, nil)
	ctx := context.Background()

	first, err := s.Search(ctx, Request{Query: "x"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, Request{Query: "x"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, resultIDs(first.Results), resultIDs(second.Results))
	assert.EqualValues(t, 1, fs.keywordCalls.Load())

	// Mutating a returned response must not leak into the cache
	*second.Results[0].KeywordRank = 99
	third, err := s.Search(ctx, Request{Query: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, *third.Results[0].KeywordRank)

	fs.gen.Add(1)
	fourth, err := s.Search(ctx, Request{Query: "x"})
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit, "commit invalidates cached responses")
	assert.EqualValues(t, 2, fs.keywordCalls.Load())

	other, err := s.Search(ctx, Request{Query: "x", FileGlob: "src/*"})
	require.NoError(t, err)
	assert.False(t, other.CacheHit)
}

func TestSearch_CacheDisabled(t *testing.T) {
	fs := newFakeStore("A")
	fs.keyword = kw("A")
	s := New(fs, &fakeEmbedder{}, Config{CacheSize: -1}, nil)

	for i := 0; i < 3; i++ {
		resp, err := s.Search(context.Background(), Request{Query: "x", Mode: SearchModeKeyword})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	assert.EqualValues(t, 3, fs.keywordCalls.Load())
}

func TestSearch_RetriesWhenStoreChanges(t *testing.T) {
	fs := newFakeStore("A")
	fs.keyword = kw("A")
	fs.bumpOnce.Store(true)
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "x", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fs.keywordCalls.Load())
	assert.EqualValues(t, 1, resp.Generation)
}

func TestSearch_ContentTruncation(t *testing.T) {
	fs := newFakeStore("A")
	fs.chunks["A"].Content = "héllo wörld"
	fs.keyword = kw("A")
	s := New(fs, &fakeEmbedder{}, Config{MaxContentChars: 2}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "x", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, "h", resp.Results[0].Content, "never splits a multi-byte rune")
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abcdef", 3))
	assert.Equal(t, "ab", truncateUTF8("ab", 5))
	assert.Equal(t, "日", truncateUTF8("日本", 4))
	assert.Equal(t, "", truncateUTF8("日本", 2))
}

func TestSearch_ColdStartOnRealStore(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	client := embedder.NewClient(embedder.NewHashingProvider("hash-test", 64), embedder.DefaultClientConfig(), nil)
	s := New(store, client, Config{}, nil)

	resp, err := s.Search(context.Background(), Request{Query: "anything at all"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, resp.Degraded)
}

func TestSearch_Concurrent(t *testing.T) {
	fs := newFakeStore("A", "B", "C", "D")
	fs.keyword = kw("A", "B", "C")
	fs.vector = vec("B", "D", "A")
	s := New(fs, &fakeEmbedder{}, Config{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.Search(context.Background(), Request{Query: "token"})
			if assert.NoError(t, err) {
				assert.Equal(t, []string{"B", "A", "D", "C"}, resultIDs(resp.Results))
			}
		}()
	}
	wg.Wait()
}
