package store

import (
	"sync"

	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/metrics"
)

// Store is the in-memory trace store: a time-ordered event log plus the
// indexes (object hash, pod ownership) needed to decide whether an incoming
// object mutation is worth recording. It is safe for concurrent use; every
// watcher goroutine feeding it calls through the same mutex.
type Store struct {
	mu     sync.RWMutex
	config TracerConfig
	events *traceEventList
	index  *traceIndex
	owners *podOwnersMap
}

// NewStore builds an empty Store that only records objects matching one of
// the GVKs named in config.
func NewStore(config TracerConfig) *Store {
	return &Store{
		config: config,
		events: newTraceEventList(),
		index:  newTraceIndex(),
		owners: newPodOwnersMap(),
	}
}

// Apply records obj as created or updated at ts. If obj's GVK isn't
// tracked, or its sanitized spec hashes identically to what's already
// indexed, Apply is a no-op — this is what keeps the trace from filling up
// with spurious resyncs.
func (s *Store) Apply(obj *unstructured.Unstructured, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(obj, ts)
}

func (s *Store) applyLocked(obj *unstructured.Unstructured, ts int64) error {
	g := gvk.OfGVK(obj)
	if _, tracked := s.config[g]; !tracked {
		return nil
	}

	sanitized := kube.SanitizeObject(obj)
	hash, err := kube.HashObject(sanitized)
	if err != nil {
		return err
	}

	n := gvk.OfObject(obj)
	if existing, ok := s.index.get(g, n); ok && existing == hash {
		return nil
	}

	s.index.insert(g, n, hash)
	s.events.appendApplied(ts, sanitized)
	metrics.EventsAppended.WithLabelValues(g.String()).Inc()
	return nil
}

// Delete records obj as deleted at ts. Deleting an object that was never
// indexed (not tracked, or already deleted) is a no-op.
func (s *Store) Delete(obj *unstructured.Unstructured, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := gvk.OfGVK(obj)
	n := gvk.OfObject(obj)
	if !s.index.contains(g, n) {
		return nil
	}

	s.index.remove(g, n)
	s.events.appendDeleted(ts, kube.SanitizeObject(obj))
	metrics.EventsAppended.WithLabelValues(g.String()).Inc()
	return nil
}

// ReconcileSnapshot replaces everything indexed under g with objs: every
// object in objs is applied (subject to the same hash-based dedup as
// Apply), and every previously-indexed object of GVK g absent from objs is
// recorded as deleted. This is how a watcher resync reconciles the store
// after a missed-event gap without replaying history it already has.
func (s *Store) ReconcileSnapshot(g gvk.GVK, objs []*unstructured.Unstructured, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := lo.SliceToMap(lo.Keys(s.index.byGVK[g]), func(n gvk.NsName) (gvk.NsName, struct{}) {
		return n, struct{}{}
	})

	for _, obj := range objs {
		if err := s.applyLocked(obj, ts); err != nil {
			return err
		}
		delete(previous, gvk.OfObject(obj))
	}

	for n := range previous {
		s.index.remove(g, n)
		s.events.appendDeleted(ts, stubObject(g, n))
	}

	return nil
}

// stubObject builds a minimal unstructured object carrying only identity
// (apiVersion, kind, namespace, name), used to record the deletion of an
// object reconcile discovered missing but whose last-known body isn't kept
// around once it's been applied.
func stubObject(g gvk.GVK, n gvk.NsName) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion(g.APIVersion())
	obj.SetKind(g.Kind)
	obj.SetNamespace(n.Namespace)
	obj.SetName(n.Name)
	return obj
}

// RecordPodLifecycle records the lifecycle data derived for a pod, keyed by
// its owner and the stable hash of its sanitized pod spec.
func (s *Store) RecordPodLifecycle(
	podNsName gvk.NsName,
	owners []metav1.OwnerReference,
	hash uint64,
	lifecycleData kube.PodLifecycleData,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners.record(podNsName, owners, hash, lifecycleData)
}

// LookupPodLifecycle returns the currently-recorded lifecycle for a pod, or
// kube.Empty if nothing has been recorded for it.
func (s *Store) LookupPodLifecycle(podNsName gvk.NsName) kube.PodLifecycleData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owners.lookup(podNsName)
}

// StartTs returns the timestamp of the earliest recorded event, or 0 if
// the store is empty.
func (s *Store) StartTs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.startTs()
}

// EndTs returns the timestamp of the most recently recorded event, or 0 if
// the store is empty.
func (s *Store) EndTs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.endTs()
}

// HasObject reports whether g/n is currently indexed (applied and not yet
// deleted).
func (s *Store) HasObject(g gvk.GVK, n gvk.NsName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.contains(g, n)
}

// Config returns the tracer configuration this store was built with.
func (s *Store) Config() TracerConfig {
	return s.config
}

// EventWithNext pairs a recorded event with the timestamp of the event that
// follows it, so a replay driver knows how long to wait before applying the
// next batch of mutations. NextTs is -1 for the final event.
type EventWithNext struct {
	Event  TraceEvent
	NextTs int64
}

// Iter returns every recorded event in timestamp order, each paired with
// the timestamp of its successor.
func (s *Store) Iter() []EventWithNext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events.events
	return lo.Map(events, func(e TraceEvent, i int) EventWithNext {
		next := int64(-1)
		if i+1 < len(events) {
			next = events[i+1].Ts
		}
		return EventWithNext{Event: e, NextTs: next}
	})
}
