package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/internal/freshness"
	"github.com/dshills/codesight/internal/indexer"
	"github.com/dshills/codesight/internal/ledger"
	"github.com/dshills/codesight/internal/logging"
	"github.com/dshills/codesight/internal/searcher"
	"github.com/dshills/codesight/internal/storage"
	"github.com/dshills/codesight/pkg/types"
)

// DBFileName is the store file inside a collection directory
const DBFileName = "index.db"

// Embedder serves both indexing and query embedding. *embedder.Client
// implements it.
type Embedder interface {
	indexer.Embedder
	searcher.QueryEmbedder
}

// Engine owns one collection: the store, ledger, indexer and searcher for a
// single root folder. Index passes are serialised; searches run concurrently
// with them and observe only committed files.
type Engine struct {
	root     string
	dir      string
	cfg      *config.Config
	store    *storage.SQLiteStorage
	ledger   *ledger.Ledger
	embedder Embedder
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	tracker  *freshness.Tracker
	logger   *zap.Logger

	passMu sync.Mutex        // Serialises index passes
	lock   indexer.IndexLock // Held while a pass runs or is queued in the background

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	closeOnce sync.Once
}

// CanonicalRoot resolves root to an absolute, symlink-free directory path
func CanonicalRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: root path is required", types.ErrConfiguration)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %w", types.ErrConfiguration, root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %w", types.ErrConfiguration, root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", types.ErrConfiguration, resolved)
	}
	return resolved, nil
}

// CollectionDir returns the directory holding the collection of a canonical
// root: <dataDir>/<first 12 hex chars of sha256(root)>
func CollectionDir(dataDir, root string) string {
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(dataDir, hex.EncodeToString(sum[:])[:12])
}

// resolveExisting resolves symlinks in the longest existing prefix of path,
// so a data dir that does not exist yet still compares against the root
func resolveExisting(path string) string {
	rest := ""
	for dir := path; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return path
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// isWithin reports whether path lies inside or at dir
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Open opens or creates the collection for root. The store is verified and
// repaired before the ledger is rebuilt from it.
func Open(ctx context.Context, root string, cfg *config.Config, emb Embedder, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrConfiguration)
	}
	canonical, err := CanonicalRoot(root)
	if err != nil {
		return nil, err
	}

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil || cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: invalid data dir %q", types.ErrConfiguration, cfg.DataDir)
	}
	dataDir = resolveExisting(dataDir)
	dir := CollectionDir(dataDir, canonical)
	if isWithin(canonical, dir) {
		return nil, fmt.Errorf("%w: collection directory %s lies inside the indexed root %s",
			types.ErrConfiguration, dir, canonical)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create collection directory: %w", types.ErrConfiguration, err)
	}

	log := logging.OrNop(logger).Named("engine").With(zap.String("root", canonical))

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, DBFileName), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	if _, err := store.Repair(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	led := ledger.New()
	if err := led.Rebuild(ctx, store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to rebuild ledger: %w", err)
	}

	meta, err := store.GetMetadata(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if meta.RootPath != "" && meta.RootPath != canonical {
		_ = store.Close()
		return nil, fmt.Errorf("%w: collection %s belongs to %s", types.ErrConfiguration, dir, meta.RootPath)
	}
	if meta.EmbeddingModel != "" && (meta.EmbeddingModel != emb.Model() || meta.EmbeddingDims != emb.Dimension()) {
		log.Warn("embedding model changed, next pass rebuilds the collection",
			zap.String("stored_model", meta.EmbeddingModel),
			zap.Int("stored_dims", meta.EmbeddingDims),
			zap.String("model", emb.Model()),
			zap.Int("dims", emb.Dimension()))
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	e := &Engine{
		root:     canonical,
		dir:      dir,
		cfg:      cfg,
		store:    store,
		ledger:   led,
		embedder: emb,
		indexer:  indexer.New(canonical, store, led, emb, indexer.OptionsFromConfig(cfg), logger),
		searcher: searcher.New(store, emb, searcher.Config{
			Candidates:  cfg.Search.Candidates,
			RRFConstant: cfg.Search.RRFConstant,
			Timeout:     cfg.Search.Timeout.Duration,
		}, logger),
		tracker:  freshness.New(cfg.Index.StaleThreshold.Duration),
		logger:   log,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	log.Info("collection opened",
		zap.String("dir", dir),
		zap.Int("ledger_entries", led.Len()))
	return e, nil
}

// Root returns the canonical root folder
func (e *Engine) Root() string { return e.root }

// Dir returns the collection directory
func (e *Engine) Dir() string { return e.dir }

// Store exposes the collection store for diagnostics
func (e *Engine) Store() *storage.SQLiteStorage { return e.store }

// Indexing reports whether a pass is running or queued
func (e *Engine) Indexing() bool { return e.lock.Held() }

// Index runs one incremental pass, or a full rebuild when force is set.
// Concurrent calls wait for each other.
func (e *Engine) Index(ctx context.Context, force bool) (*types.IndexStats, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if e.lock.TryAcquire() {
		defer e.lock.Release()
	}
	return e.indexer.Run(ctx, force)
}

// refreshInBackground starts a pass unless one is already running or queued
func (e *Engine) refreshInBackground() bool {
	if !e.lock.TryAcquire() {
		return false
	}
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		defer e.lock.Release()

		e.passMu.Lock()
		defer e.passMu.Unlock()
		if e.bgCtx.Err() != nil {
			return
		}
		stats, err := e.indexer.Run(e.bgCtx, false)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.logger.Error("background refresh failed", zap.Error(err))
			}
			return
		}
		e.logger.Info("background refresh finished",
			zap.Int("files_processed", stats.FilesProcessed),
			zap.Int("chunks_written", stats.ChunksWritten),
			zap.Duration("duration", stats.Duration))
	}()
	return true
}

// Search answers a query, refreshing the collection first when opts asks
// for it and the collection is empty or stale
func (e *Engine) Search(ctx context.Context, opts types.SearchOptions) ([]types.QueryResult, error) {
	resp, err := e.SearchDetailed(ctx, opts, searcher.SearchModeHybrid)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchDetailed is Search with a chosen mode and the full response
func (e *Engine) SearchDetailed(ctx context.Context, opts types.SearchOptions, mode searcher.SearchMode) (*searcher.Response, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.TopK == 0 {
		opts.TopK = e.cfg.Search.TopK
	}

	if opts.Refresh != "" && opts.Refresh != types.RefreshNone {
		if err := e.ensureFresh(ctx, opts.Refresh); err != nil {
			return nil, err
		}
	}

	return e.searcher.Search(ctx, searcher.Request{
		Query:    opts.Query,
		TopK:     opts.TopK,
		FileGlob: opts.FileGlob,
		Mode:     mode,
	})
}

func (e *Engine) ensureFresh(ctx context.Context, mode types.RefreshMode) error {
	meta, err := e.store.GetMetadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	empty := meta.LastIndexedAt.IsZero()
	if e.modelChanged(meta) {
		// A model change makes every stored vector unusable
		meta.LastIndexedAt = time.Time{}
	}
	action := e.tracker.Decide(mode, meta, empty)

	switch action {
	case freshness.ActionBlocking:
		e.logger.Debug("refreshing before search", zap.Bool("empty", empty))
		if _, err := e.Index(ctx, false); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, types.ErrConfiguration) {
				return err
			}
			// Whatever is committed can still be searched
			e.logger.Warn("refresh before search failed", zap.Error(err))
		}
	case freshness.ActionBackground:
		e.refreshInBackground()
	}
	return nil
}

func (e *Engine) modelChanged(meta *storage.Metadata) bool {
	return meta.EmbeddingModel != "" &&
		(meta.EmbeddingModel != e.embedder.Model() || meta.EmbeddingDims != e.embedder.Dimension())
}

// Status reports what the collection holds and whether it is stale
func (e *Engine) Status(ctx context.Context) (*types.Status, error) {
	meta, err := e.store.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	return &types.Status{
		RootPath:       e.root,
		Indexed:        !meta.LastIndexedAt.IsZero(),
		ChunkCount:     stats.Chunks,
		FileCount:      stats.Files,
		LastIndexedAt:  meta.LastIndexedAt,
		IsStale:        e.tracker.IsStale(meta) || e.modelChanged(meta),
		EmbeddingModel: meta.EmbeddingModel,
		EmbeddingDims:  meta.EmbeddingDims,
		LastCommit:     meta.LastCommit,
	}, nil
}

// Close cancels any background pass, waits for it and closes the store.
// The embedder is shared and is not closed.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.bgCancel()
		e.bgWG.Wait()
		e.passMu.Lock()
		defer e.passMu.Unlock()
		err = e.store.Close()
	})
	return err
}
