package watch

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/utils/clock"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/metrics"
	"github.com/acrlabs/simkube/pkg/store"
)

// relistBackoff is how long DynObjWatcher waits before retrying a failed
// list-or-watch call, so a down API server doesn't spin the loop hot.
const relistBackoff = 2 * time.Second

// DynObjWatcher watches every object of a single tracked GVK and forwards
// create/update/delete events, and a full relist each time the watch stream
// ends or a list/watch call fails, into a Store.
type DynObjWatcher struct {
	GVK       gvk.GVK
	Discovery *discovery.Cache
	Store     *store.Store
	Clock     Clock

	ready chan struct{}
}

// NewDynObjWatcher builds a watcher for g. clk defaults to clock.RealClock
// if nil.
func NewDynObjWatcher(g gvk.GVK, disco *discovery.Cache, s *store.Store, clk Clock) *DynObjWatcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &DynObjWatcher{GVK: g, Discovery: disco, Store: s, Clock: clk, ready: make(chan struct{})}
}

// Ready returns a channel that's closed once the watcher has completed its
// first full list.
func (w *DynObjWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Run drives the watch loop until ctx is cancelled. Every relist reconciles
// the store against the freshly listed set; every watch event applies or
// deletes a single object. A broken watch stream is logged and triggers a
// relist rather than propagating an error.
func (w *DynObjWatcher) Run(ctx context.Context) error {
	log := ctrllog.FromContext(ctx).WithValues("gvk", w.GVK.String())
	signaledReady := false

	resource, namespaced, err := w.Discovery.ResourceFor(ctx, w.GVK)
	if err != nil {
		return fmt.Errorf("watch: resolving resource for %s: %w", w.GVK, err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		list, err := listAll(ctx, resource, namespaced)
		if err != nil {
			log.Error(err, "list failed, retrying")
			if !sleepOrDone(ctx, relistBackoff) {
				return ctx.Err()
			}
			continue
		}

		objs := make([]*unstructured.Unstructured, len(list.Items))
		for i := range list.Items {
			objs[i] = &list.Items[i]
		}
		if err := w.Store.ReconcileSnapshot(w.GVK, objs, w.Clock.Now().Unix()); err != nil {
			return fmt.Errorf("watch: reconciling snapshot for %s: %w", w.GVK, err)
		}
		metrics.ObjectsWatched.WithLabelValues(w.GVK.String()).Set(float64(len(objs)))
		if !signaledReady {
			close(w.ready)
			signaledReady = true
		}

		stream, err := watchAll(ctx, resource, namespaced, list.GetResourceVersion())
		if err != nil {
			log.Error(err, "watch failed, retrying")
			if !sleepOrDone(ctx, relistBackoff) {
				return ctx.Err()
			}
			continue
		}

		w.consume(ctx, log, stream)
	}
}

// consume drains a single watch stream, applying events to Store until the
// stream closes (prompting the caller to relist) or ctx is cancelled.
func (w *DynObjWatcher) consume(ctx context.Context, log interface {
	Error(err error, msg string, kv ...interface{})
}, stream watch.Interface) {
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.ResultChan():
			if !ok {
				return
			}
			obj, ok := ev.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}

			ts := w.Clock.Now().Unix()
			switch ev.Type {
			case watch.Added, watch.Modified:
				if err := w.Store.Apply(obj, ts); err != nil {
					log.Error(err, "apply failed")
				}
			case watch.Deleted:
				if err := w.Store.Delete(obj, ts); err != nil {
					log.Error(err, "delete failed")
				}
			case watch.Error:
				log.Error(fmt.Errorf("watch error event"), "watch stream reported an error")
			}
		}
	}
}

func listAll(
	ctx context.Context,
	resource dynamic.NamespaceableResourceInterface,
	namespaced bool,
) (*unstructured.UnstructuredList, error) {
	if namespaced {
		return resource.Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	}
	return resource.List(ctx, metav1.ListOptions{})
}

func watchAll(
	ctx context.Context,
	resource dynamic.NamespaceableResourceInterface,
	namespaced bool,
	resourceVersion string,
) (watch.Interface, error) {
	opts := metav1.ListOptions{ResourceVersion: resourceVersion, Watch: true}
	if namespaced {
		return resource.Namespace(metav1.NamespaceAll).Watch(ctx, opts)
	}
	return resource.Watch(ctx, opts)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
