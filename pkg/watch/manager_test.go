package watch

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeWatcher struct {
	ready   chan struct{}
	runFunc func(ctx context.Context) error
}

func newFakeWatcher(runFunc func(ctx context.Context) error) *fakeWatcher {
	return &fakeWatcher{ready: make(chan struct{}), runFunc: runFunc}
}

func (w *fakeWatcher) Ready() <-chan struct{} { return w.ready }

func (w *fakeWatcher) Run(ctx context.Context) error {
	return w.runFunc(ctx)
}

func TestTraceManagerReadyClosesOnceAllWatchersReady(t *testing.T) {
	wa := newFakeWatcher(func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })
	wb := newFakeWatcher(func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	m := NewTraceManager(wa, wb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-m.Ready():
		t.Fatalf("manager reported ready before any watcher signaled readiness")
	case <-time.After(20 * time.Millisecond):
	}

	close(wa.ready)

	select {
	case <-m.Ready():
		t.Fatalf("manager reported ready before every watcher signaled readiness")
	case <-time.After(20 * time.Millisecond):
	}

	close(wb.ready)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("manager never became ready once both watchers signaled")
	}

	cancel()
	<-done
}

func TestTraceManagerRunPropagatesWatcherError(t *testing.T) {
	wantErr := errors.New("watcher exploded")
	wa := newFakeWatcher(func(ctx context.Context) error { return wantErr })
	wb := newFakeWatcher(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m := NewTraceManager(wa, wb)
	err := m.Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected Run to surface %v, got %v", wantErr, err)
	}
}
