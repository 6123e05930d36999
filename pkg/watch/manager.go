package watch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Watcher is anything TraceManager can supervise: a long-running loop that
// participates in the ready barrier described in spec.md §4.2.
type Watcher interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

// TraceManager runs every watcher feeding a single recording session and
// muxes them into one combined "ready" signal: every watcher's initial list
// has completed. It does not touch the Store directly — each watcher owns
// that edge on its own.
type TraceManager struct {
	watchers []Watcher
	ready    chan struct{}
}

// NewTraceManager builds a manager over the given watchers.
func NewTraceManager(watchers ...Watcher) *TraceManager {
	return &TraceManager{watchers: watchers, ready: make(chan struct{})}
}

// Ready returns a channel that's closed once every supervised watcher has
// signaled its own readiness.
func (m *TraceManager) Ready() <-chan struct{} {
	return m.ready
}

// Run starts every watcher concurrently and blocks until ctx is cancelled or
// one watcher returns a non-nil error, in which case every other watcher is
// cancelled too (errgroup's shared derived context).
func (m *TraceManager) Run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, w := range m.watchers {
		w := w
		grp.Go(func() error { return w.Run(gctx) })
	}

	go m.waitReady(gctx)

	return grp.Wait()
}

func (m *TraceManager) waitReady(ctx context.Context) {
	for _, w := range m.watchers {
		select {
		case <-w.Ready():
		case <-ctx.Done():
			return
		}
	}
	select {
	case <-m.ready:
		// already closed by a previous call; nothing to do.
	default:
		close(m.ready)
	}
}
