package watch

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/owners"
	"github.com/acrlabs/simkube/pkg/store"
)

// PodGVK is the well-known GVK for core pods, keyed the same way every
// tracked GVK is keyed for discovery and owner-chain lookups.
var PodGVK = gvk.GVK{Group: "", Version: "v1", Kind: "Pod"}

type podLogger interface {
	Error(err error, msg string, kv ...interface{})
}

// PodWatcher watches every pod in the cluster and records the lifecycle
// derived from its status against the store, keyed by its immediate owner
// and the stable hash of its sanitized spec.
type PodWatcher struct {
	Discovery *discovery.Cache
	Owners    *owners.Cache
	Store     *store.Store
	Clock     Clock

	ready chan struct{}
}

// NewPodWatcher builds a PodWatcher. clk defaults to clock.RealClock if nil.
func NewPodWatcher(disco *discovery.Cache, ownersCache *owners.Cache, s *store.Store, clk Clock) *PodWatcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &PodWatcher{Discovery: disco, Owners: ownersCache, Store: s, Clock: clk, ready: make(chan struct{})}
}

// Ready returns a channel that's closed once the watcher has completed its
// first full pod list.
func (w *PodWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Run drives the pod watch loop until ctx is cancelled, following the same
// relist-on-error shape as DynObjWatcher.
func (w *PodWatcher) Run(ctx context.Context) error {
	log := ctrllog.FromContext(ctx).WithValues("watcher", "pod")
	signaledReady := false

	resource, _, err := w.Discovery.ResourceFor(ctx, PodGVK)
	if err != nil {
		return fmt.Errorf("watch: resolving resource for pods: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		list, err := resource.Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
		if err != nil {
			log.Error(err, "pod list failed, retrying")
			if !sleepOrDone(ctx, relistBackoff) {
				return ctx.Err()
			}
			continue
		}

		for i := range list.Items {
			w.handle(ctx, log, &list.Items[i])
		}
		if !signaledReady {
			close(w.ready)
			signaledReady = true
		}

		stream, err := resource.Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
			ResourceVersion: list.GetResourceVersion(),
			Watch:           true,
		})
		if err != nil {
			log.Error(err, "pod watch failed, retrying")
			if !sleepOrDone(ctx, relistBackoff) {
				return ctx.Err()
			}
			continue
		}

		w.consume(ctx, log, stream)
	}
}

func (w *PodWatcher) consume(ctx context.Context, log podLogger, stream watch.Interface) {
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
			switch ev.Type {
			case watch.Added, watch.Modified, watch.Deleted:
				w.handle(ctx, log, obj)
			case watch.Error:
				log.Error(fmt.Errorf("watch error event"), "pod watch stream reported an error")
			}
		}
	}
}

// handle sanitizes obj, resolves its owner chain, derives its lifecycle from
// status, and records it against the store. Any single failure is logged
// and the pod is skipped rather than aborting the watch loop, except a
// malformed container state, which records the pod as Empty (spec.md §7:
// FieldNotFound/MalformedContainerState are non-fatal at record time).
func (w *PodWatcher) handle(ctx context.Context, log podLogger, obj *unstructured.Unstructured) {
	pod := &corev1.Pod{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, pod); err != nil {
		log.Error(err, "decoding pod", "pod", obj.GetName())
		return
	}

	podNsName := gvk.NsName{Namespace: pod.Namespace, Name: pod.Name}

	// Resolving the full chain validates there's no ownership cycle and
	// bounds chain depth before anything is recorded; record_pod_lifecycle
	// itself only needs the pod's immediate owner reference (store.ownerOf
	// picks the controller ref out of that single-level list).
	if _, err := w.Owners.Chain(ctx, PodGVK, podNsName); err != nil {
		log.Error(err, "resolving owner chain", "pod", podNsName.String())
		return
	}

	sanitizedSpec := kube.SanitizePodSpec(&pod.Spec)
	hash, err := kube.HashPodSpec(sanitizedSpec)
	if err != nil {
		log.Error(err, "hashing pod spec", "pod", podNsName.String())
		return
	}

	lifecycle, err := kube.DerivePodLifecycle(pod)
	switch {
	case errors.Is(err, kube.ErrMalformedContainerState):
		log.Error(err, "deriving pod lifecycle, recording Empty", "pod", podNsName.String())
		lifecycle = kube.Empty
	case err != nil:
		log.Error(err, "deriving pod lifecycle, skipping event", "pod", podNsName.String())
		return
	}

	w.Store.RecordPodLifecycle(podNsName, pod.OwnerReferences, hash, lifecycle)
}
