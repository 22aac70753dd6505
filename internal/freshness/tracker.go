// Package freshness decides when an indexed collection has fallen behind its
// source folder and what a search should do about it.
package freshness

import (
	"time"

	"github.com/dshills/codesight/internal/storage"
	"github.com/dshills/codesight/pkg/types"
)

// DefaultThreshold is the age after which a collection counts as stale
const DefaultThreshold = 5 * time.Minute

// Action is what a search should do before querying
type Action int

const (
	ActionNone       Action = iota // Query the collection as is
	ActionBlocking                 // Run a pass and wait for it
	ActionBackground               // Start a pass if none is running
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionBlocking:
		return "blocking"
	case ActionBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Tracker reports staleness from the last completed pass time
type Tracker struct {
	threshold time.Duration
	now       func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker. A non-positive threshold uses DefaultThreshold.
func New(threshold time.Duration, opts ...Option) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	t := &Tracker{threshold: threshold, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Threshold returns the configured staleness threshold
func (t *Tracker) Threshold() time.Duration { return t.threshold }

// Age returns how long ago the collection was last indexed, zero if never
func (t *Tracker) Age(last time.Time) time.Duration {
	if last.IsZero() {
		return 0
	}
	return t.now().Sub(last)
}

// IsStale reports whether meta is older than the threshold. A collection
// that never completed a pass is stale.
func (t *Tracker) IsStale(meta *storage.Metadata) bool {
	if meta == nil || meta.LastIndexedAt.IsZero() {
		return true
	}
	return t.now().Sub(meta.LastIndexedAt) > t.threshold
}

// Decide maps a refresh mode onto an action. An empty collection always
// gets a blocking pass when any refresh is requested, since a background
// pass would leave the search with nothing to return.
func (t *Tracker) Decide(mode types.RefreshMode, meta *storage.Metadata, empty bool) Action {
	switch mode {
	case types.RefreshBlocking, types.RefreshBackground:
	default:
		return ActionNone
	}
	if empty {
		return ActionBlocking
	}
	if !t.IsStale(meta) {
		return ActionNone
	}
	if mode == types.RefreshBlocking {
		return ActionBlocking
	}
	return ActionBackground
}
