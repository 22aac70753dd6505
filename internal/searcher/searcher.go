package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesight/internal/logging"
	"github.com/dshills/codesight/internal/storage"
	"github.com/dshills/codesight/pkg/types"
)

// SearchMode selects which sub-indexes a search consults
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Keyword + vector with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 only
)

// Defaults
const (
	DefaultTopK       = 8
	DefaultCandidates = 20
	DefaultCacheSize  = 256
)

// Store is the read side of the dual store
type Store interface {
	QueryKeyword(ctx context.Context, query string, n int, glob string) ([]storage.KeywordHit, error)
	QueryVector(ctx context.Context, vector []float32, n int, glob string) ([]storage.VectorHit, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error)
	Generation() uint64
}

// QueryEmbedder embeds search queries. *embedder.Client implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the retriever
type Config struct {
	Candidates      int           // Hits requested from each sub-index (default 20)
	RRFConstant     float64       // k in the fusion formula (default 60)
	Timeout         time.Duration // Deadline for the sub-queries, 0 = none
	CacheSize       int           // Cached responses, negative disables
	MaxContentChars int           // Cap on returned chunk text, 0 = no cap
}

// Request contains parameters for a search
type Request struct {
	Query    string
	TopK     int
	FileGlob string
	Mode     SearchMode
}

// Response contains ranked results and how they were produced
type Response struct {
	Results     []types.QueryResult
	KeywordHits int
	VectorHits  int
	Degraded    string // Name of a failed sub-index, empty when both answered
	Generation  uint64 // Store generation the results were read at
	CacheHit    bool
	Duration    time.Duration
}

// Searcher answers hybrid queries against one collection. Safe for concurrent use.
type Searcher struct {
	store    Store
	embedder QueryEmbedder
	cfg      Config
	logger   *zap.Logger

	cache   *lru.Cache[[32]byte, *Response]
	cacheMu sync.RWMutex
}

// New creates a Searcher
func New(store Store, emb QueryEmbedder, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	s := &Searcher{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("searcher"),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *Response](cfg.CacheSize)
		if err != nil {
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		s.cache = cache
	}
	return s
}

// Search runs the keyword and vector queries concurrently, fuses them and
// hydrates the top results.
//
// A failed sub-query degrades to an empty list. When every consulted
// sub-index fails the search returns types.ErrSearchUnavailable. If the
// store commits while the query runs it is retried once, so results are
// never fused from two different store states when avoidable.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	var resp *Response
	for attempt := 0; attempt < 2; attempt++ {
		gen := s.store.Generation()
		key := cacheKey(req, gen)
		if cached := s.checkCache(key); cached != nil {
			cached.Duration = time.Since(start)
			return cached, nil
		}

		var err error
		resp, err = s.search(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.Generation = gen

		if s.store.Generation() == gen {
			if resp.Degraded == "" {
				s.storeInCache(key, resp)
			}
			break
		}
		s.logger.Debug("store changed during query", zap.Int("attempt", attempt+1))
	}

	resp.Duration = time.Since(start)
	return resp, nil
}

func (s *Searcher) validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return types.ErrEmptyQuery
	}
	if req.TopK < 0 {
		return types.ErrInvalidTopK
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	switch req.Mode {
	case "":
		req.Mode = SearchModeHybrid
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	return nil
}

func (s *Searcher) search(ctx context.Context, req Request) (*Response, error) {
	n := s.cfg.Candidates
	if req.TopK > n {
		n = req.TopK
	}

	subCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var (
		keywordHits []storage.KeywordHit
		vectorHits  []storage.VectorHit
		keywordErr  error
		vectorErr   error
		g           errgroup.Group
	)
	useKeyword := req.Mode != SearchModeVector
	useVector := req.Mode != SearchModeKeyword

	if useKeyword {
		g.Go(func() error {
			keywordHits, keywordErr = s.store.QueryKeyword(subCtx, req.Query, n, req.FileGlob)
			return nil
		})
	}
	if useVector {
		g.Go(func() error {
			vec, err := s.embedder.EmbedQuery(subCtx, req.Query)
			if err != nil {
				vectorErr = fmt.Errorf("embed query: %w", err)
				return nil
			}
			vectorHits, vectorErr = s.store.QueryVector(subCtx, vec, n, req.FileGlob)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{}
	switch {
	case useKeyword && useVector && keywordErr != nil && vectorErr != nil:
		return nil, fmt.Errorf("%w: %w", types.ErrSearchUnavailable, errors.Join(keywordErr, vectorErr))
	case useKeyword && !useVector && keywordErr != nil:
		return nil, fmt.Errorf("%w: %w", types.ErrSearchUnavailable, keywordErr)
	case useVector && !useKeyword && vectorErr != nil:
		return nil, fmt.Errorf("%w: %w", types.ErrSearchUnavailable, vectorErr)
	case keywordErr != nil:
		s.logger.Warn("keyword search failed, using vector results only", zap.Error(keywordErr))
		keywordHits, resp.Degraded = nil, "keyword"
	case vectorErr != nil:
		s.logger.Warn("vector search failed, using keyword results only", zap.Error(vectorErr))
		vectorHits, resp.Degraded = nil, "vector"
	}
	resp.KeywordHits = len(keywordHits)
	resp.VectorHits = len(vectorHits)

	fused := Fuse(keywordHits, vectorHits, s.cfg.RRFConstant)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}

	results, err := s.fetchResults(ctx, fused)
	if err != nil {
		return nil, err
	}
	resp.Results = results
	return resp, nil
}

// fetchResults hydrates fused hits with one store read. Chunks removed since
// ranking are dropped.
func (s *Searcher) fetchResults(ctx context.Context, fused []Fused) ([]types.QueryResult, error) {
	results := make([]types.QueryResult, 0, len(fused))
	if len(fused) == 0 {
		return results, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	for _, f := range fused {
		chunk, ok := chunks[f.ChunkID]
		if !ok {
			continue
		}
		result := types.QueryResult{
			ChunkID:    f.ChunkID,
			FilePath:   chunk.FilePath,
			StartLine:  chunk.StartLine,
			EndLine:    chunk.EndLine,
			Scope:      chunk.Scope,
			FusedScore: f.Score,
			Content:    chunk.Content,
		}
		if f.KeywordRank > 0 {
			rank := f.KeywordRank
			result.KeywordRank = &rank
		}
		if f.VectorRank > 0 {
			rank := f.VectorRank
			result.VectorRank = &rank
		}
		if limit := s.cfg.MaxContentChars; limit > 0 && len(result.Content) > limit {
			result.Content = truncateUTF8(result.Content, limit)
		}
		results = append(results, result)
	}
	return results, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

func (s *Searcher) checkCache(key [32]byte) *Response {
	if s.cache == nil {
		return nil
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	resp := copyResponse(entry)
	resp.CacheHit = true
	return resp
}

func (s *Searcher) storeInCache(key [32]byte, resp *Response) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Add(key, copyResponse(resp))
	s.cacheMu.Unlock()
}

// copyResponse deep-copies a response so cached entries are never shared
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = make([]types.QueryResult, len(src.Results))
	for i, r := range src.Results {
		if r.KeywordRank != nil {
			rank := *r.KeywordRank
			r.KeywordRank = &rank
		}
		if r.VectorRank != nil {
			rank := *r.VectorRank
			r.VectorRank = &rank
		}
		dst.Results[i] = r
	}
	return &dst
}

// cacheKey identifies a request at one store generation. A commit changes
// the generation, so stale entries are never hit.
func cacheKey(req Request, gen uint64) [32]byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%d|%s|", gen, req.Mode, req.TopK, req.FileGlob)
	b.WriteString(req.Query)
	return sha256.Sum256([]byte(b.String()))
}
