package vcs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxChainDepth = 10000
	DefaultHistoryLimit  = 50
	MaxHistoryLimit      = 500
)

// Observer receives operation outcomes. internal/metrics provides the
// Prometheus implementation.
type Observer interface {
	ObserveOperation(op string, kind Kind, elapsed time.Duration)
	ObserveMaterialize(source PageSource, walked int)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, Kind, time.Duration) {}
func (nopObserver) ObserveMaterialize(PageSource, int)           {}

// Engine runs every structural mutation and read of the commit graph. It is
// safe for concurrent use.
type Engine struct {
	store    Store
	cache    SnapshotCache
	locks    *scopeLocks
	flight   singleflight.Group
	now      func() time.Time
	maxDepth int
	logger   *slog.Logger
	observer Observer
}

type Option func(*Engine)

func WithSnapshotCache(cache SnapshotCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxChainDepth bounds reconstruction walks and chain searches.
func WithMaxChainDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locks:    newScopeLocks(),
		now:      time.Now,
		maxDepth: DefaultMaxChainDepth,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxChainDepth reports the configured walk bound.
func (e *Engine) MaxChainDepth() int {
	return e.maxDepth
}

// mutate runs fn as one unit of work under the plan's scope locks. The
// in-process locks are held until the transaction has committed.
func (e *Engine) mutate(ctx context.Context, plan lockPlan, fn func(Repository) error) error {
	release := e.locks.acquire(plan)
	defer release()
	err := e.store.InTx(ctx, func(repo Repository) error {
		if err := plan.apply(ctx, repo); err != nil {
			return Storage("acquire scope lock", err)
		}
		return fn(repo)
	})
	return Storage("unit of work", err)
}

// headFor resolves the head a mode selector points at. A local selector
// falls back to the shared head when the owner has no local work.
func headFor(ctx context.Context, repo Repository, projectID string, mode Mode, ownerID string) (Commit, bool, error) {
	switch mode {
	case ModeRelease:
		return repo.Head(ctx, projectID, ReleaseScope())
	case ModeLocal:
		head, ok, err := repo.Head(ctx, projectID, LocalScope(ownerID))
		if err != nil || ok {
			return head, ok, err
		}
		return repo.Head(ctx, projectID, SharedScope())
	default:
		return repo.Head(ctx, projectID, SharedScope())
	}
}

func normalizeWindow(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return offset, limit
}
