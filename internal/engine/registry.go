package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/internal/logging"
)

// Registry opens one Engine per root folder on first use and keeps it open
// until CloseAll. It is safe for concurrent use.
type Registry struct {
	cfg      *config.Config
	embedder Embedder
	logger   *zap.Logger

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// ErrRegistryClosed is returned by Get after CloseAll
var ErrRegistryClosed = errors.New("registry is closed")

// NewRegistry creates a Registry whose engines share cfg and emb
func NewRegistry(cfg *config.Config, emb Embedder, logger *zap.Logger) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Registry{
		cfg:      cfg,
		embedder: emb,
		logger:   logging.OrNop(logger),
		engines:  make(map[string]*Engine),
	}
}

// Get returns the Engine for root, opening it if needed. Paths that resolve
// to the same directory share one Engine.
func (r *Registry) Get(ctx context.Context, root string) (*Engine, error) {
	canonical, err := CanonicalRoot(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.engines[canonical]; ok {
		return e, nil
	}

	e, err := Open(ctx, canonical, r.cfg, r.embedder, r.logger)
	if err != nil {
		return nil, err
	}
	r.engines[canonical] = e
	return e, nil
}

// Roots lists the open roots in sorted order
func (r *Registry) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	roots := make([]string, 0, len(r.engines))
	for root := range r.engines {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// CloseAll closes every open Engine and rejects further Get calls
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
