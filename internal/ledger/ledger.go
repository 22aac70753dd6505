// Package ledger keeps an in-memory view of which content hashes a collection
// already holds, so unchanged chunks are neither re-embedded nor rewritten.
//
// The store is authoritative. A Ledger is rebuilt from it when a collection
// opens and after any inconsistency; between rebuilds the indexer applies
// each committed file change to both.
package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Decision is the outcome of classifying one chunk against the ledger
type Decision int

const (
	// Insert means the chunk id is unknown
	Insert Decision = iota
	// Update means the id exists with a different hash
	Update
	// Skip means the id exists with the same hash
	Skip
)

func (d Decision) String() string {
	switch d {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Source yields every (chunk id, content hash) pair held by a store
type Source interface {
	ScanHashes(ctx context.Context, fn func(id, hash string) error) error
}

// Ledger maps chunk ids to content hashes and back
type Ledger struct {
	mu     sync.RWMutex
	byID   map[string]string
	byHash map[string]map[string]struct{}
}

// New returns an empty Ledger
func New() *Ledger {
	return &Ledger{
		byID:   make(map[string]string),
		byHash: make(map[string]map[string]struct{}),
	}
}

// Rebuild replaces the ledger contents with the pairs read from src.
// On error the previous contents are kept.
func (l *Ledger) Rebuild(ctx context.Context, src Source) error {
	byID := make(map[string]string)
	byHash := make(map[string]map[string]struct{})
	err := src.ScanHashes(ctx, func(id, hash string) error {
		byID[id] = hash
		addID(byHash, hash, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}

	l.mu.Lock()
	l.byID = byID
	l.byHash = byHash
	l.mu.Unlock()
	return nil
}

// Classify compares a chunk against the ledger by hash only
func (l *Ledger) Classify(id, hash string) Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	existing, ok := l.byID[id]
	switch {
	case !ok:
		return Insert
	case existing == hash:
		return Skip
	default:
		return Update
	}
}

// Lookup returns the id of a stored chunk with the given hash.
// When several chunks share the hash the smallest id is returned.
func (l *Ledger) Lookup(hash string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byHash[hash]
	if len(ids) == 0 {
		return "", false
	}
	best := ""
	for id := range ids {
		if best == "" || id < best {
			best = id
		}
	}
	return best, true
}

// Has reports whether any stored chunk carries hash
func (l *Ledger) Has(hash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byHash[hash]) > 0
}

// Entry is one (id, hash) pair written to the store
type Entry struct {
	ID   string
	Hash string
}

// Apply mirrors a committed store change: removed ids are dropped, then
// written entries are recorded.
func (l *Ledger) Apply(removed []string, written []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range removed {
		l.removeLocked(id)
	}
	for _, e := range written {
		l.removeLocked(e.ID)
		l.byID[e.ID] = e.Hash
		addID(l.byHash, e.Hash, e.ID)
	}
}

// Forget drops a single id, used when its stored vector turned out missing
func (l *Ledger) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(id)
}

// Reset empties the ledger, matching a purged store
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID = make(map[string]string)
	l.byHash = make(map[string]map[string]struct{})
}

// Len returns the number of chunk ids tracked
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

func (l *Ledger) removeLocked(id string) {
	hash, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if ids := l.byHash[hash]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(l.byHash, hash)
		}
	}
}

func addID(byHash map[string]map[string]struct{}, hash, id string) {
	ids := byHash[hash]
	if ids == nil {
		ids = make(map[string]struct{})
		byHash[hash] = ids
	}
	ids[id] = struct{}{}
}
