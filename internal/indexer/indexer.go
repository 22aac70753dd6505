package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesight/internal/chunker"
	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/internal/ledger"
	"github.com/dshills/codesight/internal/logging"
	"github.com/dshills/codesight/internal/storage"
	"github.com/dshills/codesight/pkg/types"
)

// Embedder produces vectors for chunk texts. *embedder.Client implements it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
	Calls() int64
	TextsEmbedded() int64
}

// Options configures an Indexer
type Options struct {
	MaxChunkChars       int
	OverlapChars        int
	MaxFileSize         int64
	Workers             int     // Extract and chunk concurrency (default: runtime.NumCPU())
	BatchSize           int     // Texts per embedding call (default: 64)
	LargeChangeFraction float64 // Re-chunk every file above this share of changed files, 0 disables
	UseGit              bool    // Force files changed since the last commit to be dirty

	Extractor Extractor    // Default: NewFileExtractor(MaxFileSize)
	Filter    IgnoreFilter // Default: NewDefaultFilter(root), rebuilt every pass
}

// OptionsFromConfig maps the loaded configuration onto indexer options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxChunkChars:       cfg.Index.MaxChunkChars,
		OverlapChars:        cfg.Index.OverlapChars,
		MaxFileSize:         cfg.Index.MaxFileSize,
		Workers:             cfg.Index.Workers,
		BatchSize:           cfg.Embedding.BatchSize,
		LargeChangeFraction: cfg.Index.LargeChangeFraction,
		UseGit:              cfg.Index.UseGit,
	}
}

// Indexer keeps one collection in step with its root folder.
// It is the only writer of the collection's store and ledger.
// Passes must not overlap; the caller serialises Run.
type Indexer struct {
	root     string
	store    storage.Storage
	ledger   *ledger.Ledger
	embedder Embedder
	chunker  *chunker.Chunker
	opts     Options
	logger   *zap.Logger

	state atomic.Int32
	now   func() time.Time
}

// New creates an Indexer for the canonical absolute root
func New(root string, store storage.Storage, led *ledger.Ledger, emb Embedder, opts Options, logger *zap.Logger) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = config.DefaultMaxChunkChars
	}
	if opts.Extractor == nil {
		opts.Extractor = NewFileExtractor(opts.MaxFileSize)
	}

	return &Indexer{
		root:     root,
		store:    store,
		ledger:   led,
		embedder: emb,
		chunker:  chunker.New(opts.OverlapChars),
		opts:     opts,
		logger:   logging.OrNop(logger).Named("indexer"),
		now:      time.Now,
	}
}

// State returns the phase of the running pass, or StateIdle
func (idx *Indexer) State() State {
	return State(idx.state.Load())
}

func (idx *Indexer) setState(s State) {
	idx.state.Store(int32(s))
}

// Run performs one index pass. With force the collection is purged first.
//
// Per-file extract, chunk and embed failures are recorded in the returned
// stats and leave the file's previous chunks in place. A store write failure
// aborts the pass with types.ErrConsistency; LastIndexedAt is then left
// unchanged and the stats so far are returned with the error.
func (idx *Indexer) Run(ctx context.Context, force bool) (*types.IndexStats, error) {
	start := time.Now()
	stats := &types.IndexStats{PassID: uuid.NewString()}
	log := idx.logger.With(zap.String("pass_id", stats.PassID), zap.String("root", idx.root))
	defer idx.setState(StateIdle)

	log.Info("index pass started", zap.Bool("force", force))

	meta, err := idx.prepare(ctx, force, stats, log)
	if err != nil {
		return stats, err
	}

	idx.setState(StateWalking)
	filter := idx.opts.Filter
	if filter == nil {
		f, err := NewDefaultFilter(idx.root)
		if err != nil {
			return stats, fmt.Errorf("%w: %w", types.ErrConfiguration, err)
		}
		filter = f
	}
	walked, err := Walk(ctx, idx.root, filter, idx.opts.MaxFileSize)
	if err != nil {
		return stats, err
	}

	idx.setState(StateDiffing)
	dirty, deleted, err := idx.diff(ctx, walked, meta, stats, log)
	if err != nil {
		return stats, err
	}

	idx.setState(StateEmbedding)
	calls, texts := idx.embedder.Calls(), idx.embedder.TextsEmbedded()
	err = idx.process(ctx, dirty, stats, log)
	stats.EmbeddingCalls = int(idx.embedder.Calls() - calls)
	stats.TextsEmbedded = int(idx.embedder.TextsEmbedded() - texts)
	if err != nil {
		log.Error("index pass aborted", zap.Error(err))
		return stats, err
	}

	idx.setState(StatePruning)
	for _, path := range deleted {
		removed, err := idx.store.DeleteFile(ctx, path)
		if err != nil {
			log.Error("index pass aborted", zap.String("path", path), zap.Error(err))
			return stats, err
		}
		idx.ledger.Apply(removed, nil)
		stats.FilesDeleted++
		stats.ChunksDeleted += len(removed)
	}

	meta.LastIndexedAt = idx.now()
	if idx.opts.UseGit {
		meta.LastCommit = GitHead(ctx, idx.root)
	}
	if err := idx.store.SetMetadata(ctx, meta); err != nil {
		return stats, fmt.Errorf("%w: %w", types.ErrConsistency, err)
	}

	if st, err := idx.store.Stats(ctx); err == nil {
		stats.ChunksTotal = st.Chunks
	}
	stats.Duration = time.Since(start)

	log.Info("index pass complete",
		zap.Int("files_processed", stats.FilesProcessed),
		zap.Int("files_unchanged", stats.FilesUnchanged),
		zap.Int("files_failed", stats.FilesFailed),
		zap.Int("files_deleted", stats.FilesDeleted),
		zap.Int("chunks_written", stats.ChunksWritten),
		zap.Int("chunks_reused", stats.ChunksReused),
		zap.Int("embedding_calls", stats.EmbeddingCalls),
		zap.Bool("full_rebuild", stats.FullRebuild),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// prepare purges the collection when forced or when the embedding model,
// dims or chunk header layout differ from what it was built with, then
// records the current ones
func (idx *Indexer) prepare(ctx context.Context, force bool, stats *types.IndexStats, log *zap.Logger) (*storage.Metadata, error) {
	meta, err := idx.store.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}

	model, dims := idx.embedder.Model(), idx.embedder.Dimension()
	rebuild := force
	if meta.EmbeddingModel != "" && (meta.EmbeddingModel != model || meta.EmbeddingDims != dims) {
		log.Warn("embedding model changed, rebuilding collection",
			zap.String("old_model", meta.EmbeddingModel),
			zap.Int("old_dims", meta.EmbeddingDims),
			zap.String("model", model),
			zap.Int("dims", dims))
		rebuild = true
	}
	if meta.ChunkerVersion != 0 && meta.ChunkerVersion != types.HeaderVersion {
		log.Warn("chunk header layout changed, rebuilding collection",
			zap.Int("old_version", meta.ChunkerVersion))
		rebuild = true
	}

	if rebuild {
		if err := idx.store.Purge(ctx); err != nil {
			return nil, err
		}
		idx.ledger.Reset()
		stats.FullRebuild = true
		meta = &storage.Metadata{}
	}

	meta.RootPath = idx.root
	meta.EmbeddingModel = model
	meta.EmbeddingDims = dims
	meta.ChunkerVersion = types.HeaderVersion
	if err := idx.store.SetMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConsistency, err)
	}
	return meta, nil
}

// diff splits the walk into dirty files and returns the recorded paths that
// are no longer present
func (idx *Indexer) diff(ctx context.Context, walked []WalkedFile, meta *storage.Metadata, stats *types.IndexStats, log *zap.Logger) ([]WalkedFile, []string, error) {
	records, err := idx.store.ListFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]*storage.FileRecord, len(records))
	for _, r := range records {
		known[r.Path] = r
	}

	forced := idx.gitChanged(ctx, meta, stats, log)

	var dirty []WalkedFile
	seen := make(map[string]bool, len(walked))
	for _, f := range walked {
		seen[f.RelPath] = true
		r, ok := known[f.RelPath]
		if !ok || !r.ModTime.Equal(f.ModTime) || r.Size != f.Size || forced[f.RelPath] {
			dirty = append(dirty, f)
		}
	}

	frac := idx.opts.LargeChangeFraction
	if frac > 0 && len(known) > 0 && len(dirty) < len(walked) &&
		float64(len(dirty))/float64(len(walked)) > frac {
		log.Info("large change, re-chunking every file",
			zap.Int("changed", len(dirty)),
			zap.Int("walked", len(walked)))
		dirty = walked
	}
	stats.FilesUnchanged = len(walked) - len(dirty)

	var deleted []string
	for path := range known {
		if !seen[path] {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)

	log.Debug("diff complete",
		zap.Int("walked", len(walked)),
		zap.Int("dirty", len(dirty)),
		zap.Int("deleted", len(deleted)))
	return dirty, deleted, nil
}

// gitChanged returns root-relative paths changed since the last indexed commit
func (idx *Indexer) gitChanged(ctx context.Context, meta *storage.Metadata, stats *types.IndexStats, log *zap.Logger) map[string]bool {
	forced := make(map[string]bool)
	if !idx.opts.UseGit || meta.LastCommit == "" || stats.FullRebuild {
		return forced
	}

	changed, err := GitChangedSince(ctx, idx.root, meta.LastCommit)
	if err != nil {
		log.Debug("git diff unavailable, using file times only", zap.Error(err))
		return forced
	}
	prefix, err := GitPrefix(ctx, idx.root)
	if err != nil {
		return forced
	}
	for _, p := range changed {
		if strings.HasPrefix(p, prefix) {
			forced[strings.TrimPrefix(p, prefix)] = true
		}
	}
	return forced
}

// fileJob carries one dirty file through the pipeline
type fileJob struct {
	file    WalkedFile
	chunks  []types.Chunk
	waiting int // Chunks still missing a vector
	failed  bool
}

// process runs the extract, embed and write stages over the dirty files
func (idx *Indexer) process(ctx context.Context, dirty []WalkedFile, stats *types.IndexStats, log *zap.Logger) error {
	if len(dirty) == 0 {
		return nil
	}

	var mu sync.Mutex
	fail := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.FilesFailed++
		stats.Failures = append(stats.Failures, types.FileFailure{Path: path, Reason: err.Error()})
		log.Warn("file skipped", zap.String("path", path), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	chunked := make(chan *fileJob, idx.opts.Workers)
	ready := make(chan *fileJob, idx.opts.Workers)

	// Extract and chunk on a bounded pool
	g.Go(func() error {
		defer close(chunked)
		var workers errgroup.Group
		workers.SetLimit(idx.opts.Workers)
		for _, f := range dirty {
			if gctx.Err() != nil {
				break
			}
			workers.Go(func() error {
				chunks, err := idx.chunkFile(gctx, f)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					fail(f.RelPath, fmt.Errorf("%w: %w", types.ErrPerFile, err))
					return nil
				}
				select {
				case chunked <- &fileJob{file: f, chunks: chunks}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		return workers.Wait()
	})

	// Resolve vectors across files in provider-sized batches
	b := &batcher{
		idx:      idx,
		out:      ready,
		fail:     fail,
		log:      log,
		resolved: make(map[string][]float32),
		pending:  make(map[string][]waiter),
	}
	g.Go(func() error {
		defer close(ready)
		for job := range chunked {
			if err := b.add(gctx, job); err != nil {
				return err
			}
		}
		return b.flush(gctx)
	})

	// Commit each file once all its vectors are present
	var written, deleted, processed int
	g.Go(func() error {
		for job := range ready {
			res, err := idx.writeFile(gctx, job)
			if err != nil {
				return err
			}
			processed++
			written += len(res.Written)
			deleted += len(res.Deleted)
		}
		return nil
	})

	err := g.Wait()
	stats.FilesProcessed += processed
	stats.ChunksWritten += written
	stats.ChunksDeleted += deleted
	stats.ChunksReused += b.reused
	return err
}

// chunkFile extracts and chunks one file
func (idx *Indexer) chunkFile(ctx context.Context, f WalkedFile) ([]types.Chunk, error) {
	doc, err := idx.opts.Extractor.Extract(ctx, f.AbsPath)
	if err != nil {
		return nil, err
	}
	meta := chunker.SourceMeta{Path: f.RelPath, Language: chunker.DetectLanguage(f.RelPath)}
	if len(doc.Pages) > 0 {
		return idx.chunker.ChunkPages(doc.Pages, meta, idx.opts.MaxChunkChars), nil
	}
	return idx.chunker.Chunk(doc.Text, meta, idx.opts.MaxChunkChars), nil
}

// writeFile commits one file and mirrors the change into the ledger
func (idx *Indexer) writeFile(ctx context.Context, job *fileJob) (*storage.ApplyResult, error) {
	change := &storage.FileChange{
		File: storage.FileRecord{
			Path:      job.file.RelPath,
			ModTime:   job.file.ModTime,
			Size:      job.file.Size,
			IndexedAt: idx.now(),
		},
		Chunks: job.chunks,
	}
	res, err := idx.store.ApplyFile(ctx, change)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(job.chunks))
	for _, c := range job.chunks {
		hashes[c.ID] = c.ContentHash
	}
	entries := make([]ledger.Entry, 0, len(res.Written))
	for _, id := range res.Written {
		entries = append(entries, ledger.Entry{ID: id, Hash: hashes[id]})
	}
	idx.ledger.Apply(res.Deleted, entries)

	idx.logger.Debug("file indexed",
		zap.String("path", job.file.RelPath),
		zap.Int("written", len(res.Written)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("deleted", len(res.Deleted)))
	return res, nil
}

// waiter is a chunk waiting for the vector of its hash
type waiter struct {
	job   *fileJob
	index int
}

// batcher collects chunk texts across files so the provider sees full
// batches. Each distinct hash is embedded at most once per pass, and hashes
// already stored reuse the stored vector.
type batcher struct {
	idx  *Indexer
	out  chan<- *fileJob
	fail func(path string, err error)
	log  *zap.Logger

	resolved map[string][]float32 // Vectors known this pass, by hash
	pending  map[string][]waiter  // Hashes queued for embedding
	hashes   []string
	texts    []string
	reused   int
}

func (b *batcher) add(ctx context.Context, job *fileJob) error {
	for i := range job.chunks {
		c := &job.chunks[i]
		if b.idx.ledger.Classify(c.ID, c.ContentHash) == ledger.Skip {
			continue
		}
		if vec, ok := b.resolved[c.ContentHash]; ok {
			c.Embedding = vec
			b.reused++
			continue
		}
		if ws, ok := b.pending[c.ContentHash]; ok {
			b.pending[c.ContentHash] = append(ws, waiter{job: job, index: i})
			job.waiting++
			b.reused++
			continue
		}

		vec, err := b.stored(ctx, c.ContentHash)
		if err != nil {
			return err
		}
		if vec != nil {
			c.Embedding = vec
			b.resolved[c.ContentHash] = vec
			b.reused++
			continue
		}

		b.pending[c.ContentHash] = []waiter{{job: job, index: i}}
		b.hashes = append(b.hashes, c.ContentHash)
		b.texts = append(b.texts, c.EmbeddingText())
		job.waiting++
	}

	if job.waiting == 0 {
		if err := b.emit(ctx, job); err != nil {
			return err
		}
	}
	if len(b.texts) >= b.idx.opts.BatchSize {
		return b.flush(ctx)
	}
	return nil
}

// stored returns the vector of a stored chunk with the given hash, or nil.
// A ledger entry whose vector is gone means the ledger is stale; it is
// rebuilt from the store and the chunk gets embedded.
func (b *batcher) stored(ctx context.Context, hash string) ([]float32, error) {
	id, ok := b.idx.ledger.Lookup(hash)
	if !ok {
		return nil, nil
	}
	vec, err := b.idx.store.VectorByChunkID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.log.Warn("ledger out of step with store, rebuilding", zap.String("chunk_id", id))
		b.idx.ledger.Forget(id)
		if err := b.idx.ledger.Rebuild(ctx, b.idx.store); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrConsistency, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConsistency, err)
	}
	return vec, nil
}

// flush embeds the queued texts. A failed batch fails every file waiting on it.
func (b *batcher) flush(ctx context.Context) error {
	if len(b.texts) == 0 {
		return nil
	}
	hashes, texts := b.hashes, b.texts
	b.hashes, b.texts = nil, nil

	vectors, err := b.idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, h := range hashes {
			for _, w := range b.pending[h] {
				if !w.job.failed {
					w.job.failed = true
					b.fail(w.job.file.RelPath, fmt.Errorf("%w: %w", types.ErrPerFile, err))
				}
			}
			delete(b.pending, h)
		}
		return nil
	}

	for i, h := range hashes {
		b.resolved[h] = vectors[i]
		for _, w := range b.pending[h] {
			w.job.chunks[w.index].Embedding = vectors[i]
			w.job.waiting--
			if w.job.waiting == 0 && !w.job.failed {
				if err := b.emit(ctx, w.job); err != nil {
					return err
				}
			}
		}
		delete(b.pending, h)
	}
	return nil
}

func (b *batcher) emit(ctx context.Context, job *fileJob) error {
	select {
	case b.out <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
