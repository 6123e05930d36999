package store

import (
	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
)

// EventsInRange returns copies of every recorded event whose timestamp
// falls in [startTs, endTs), in timestamp order. Used by pkg/export to
// build the event slice of an exported trace.
func (s *Store) EventsInRange(startTs, endTs int64) []TraceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TraceEvent, 0, len(s.events.events))
	for _, e := range s.events.events {
		if e.Ts >= startTs && e.Ts < endTs {
			out = append(out, e)
		}
	}
	return out
}

// IndexSnapshot returns a copy of the full GVK->ns/name->hash index as it
// stands right now. pkg/export uses it as the exported trace's index as-is:
// it is not rewound to end_ts, so applies and deletes recorded at or after
// end_ts are reflected in it.
func (s *Store) IndexSnapshot() map[gvk.GVK]map[gvk.NsName]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[gvk.GVK]map[gvk.NsName]uint64, len(s.index.byGVK))
	for g, byName := range s.index.byGVK {
		names := make(map[gvk.NsName]uint64, len(byName))
		for n, h := range byName {
			names[n] = h
		}
		out[g] = names
	}
	return out
}

// PodLifecyclesOverlapping returns the subset of recorded pod lifecycles
// whose interval overlaps [startTs, endTs): a Finished(t0, t1) lifecycle
// qualifies if t1 > startTs && t0 < endTs; an open-ended Running(t0)
// lifecycle qualifies only if t0 < endTs (it is retained open, never
// truncated to Finished here — the caller decides what "retained" means
// for the exported record).
func (s *Store) PodLifecyclesOverlapping(startTs, endTs int64) map[gvk.NsName]map[uint64][]kube.PodLifecycleData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[gvk.NsName]map[uint64][]kube.PodLifecycleData{}
	for owner, byHash := range s.owners.byOwner {
		for hash, lifecycles := range byHash {
			for _, l := range lifecycles {
				if !lifecycleOverlaps(l, startTs, endTs) {
					continue
				}
				byHashOut, ok := out[owner]
				if !ok {
					byHashOut = map[uint64][]kube.PodLifecycleData{}
					out[owner] = byHashOut
				}
				byHashOut[hash] = append(byHashOut[hash], l)
			}
		}
	}
	return out
}

func lifecycleOverlaps(l kube.PodLifecycleData, startTs, endTs int64) bool {
	switch l.Phase {
	case kube.PhaseEmpty:
		return false
	case kube.PhaseRunning:
		return l.Start < endTs
	case kube.PhaseFinished:
		return l.End > startTs && l.Start < endTs
	default:
		return false
	}
}

// Snapshot is the full internal state needed to reconstruct a frozen Store
// from an imported trace: the config it was recorded under, every event in
// range, the index as it stood when the export ran (see IndexSnapshot), and
// the surviving pod lifecycles.
type Snapshot struct {
	Config        TracerConfig
	Events        []TraceEvent
	Index         map[gvk.GVK]map[gvk.NsName]uint64
	PodLifecycles map[gvk.NsName]map[uint64][]kube.PodLifecycleData
}

// FromSnapshot rebuilds a Store from a previously exported Snapshot. The
// rebuilt store has no byPod ownership index — pod lifecycles are looked up
// by owner+hash only, since that's what import has to work with — so
// LookupPodLifecycle against a rebuilt store always returns kube.Empty;
// callers that need per-pod lookups during replay should use
// PodLifecyclesOverlapping's owner/hash keying directly.
func FromSnapshot(snap Snapshot) *Store {
	s := NewStore(snap.Config)

	for g, byName := range snap.Index {
		for n, h := range byName {
			s.index.insert(g, n, h)
		}
	}

	s.events.events = append(s.events.events, snap.Events...)

	for owner, byHash := range snap.PodLifecycles {
		dst := map[uint64][]kube.PodLifecycleData{}
		for hash, lifecycles := range byHash {
			dst[hash] = append([]kube.PodLifecycleData(nil), lifecycles...)
		}
		s.owners.byOwner[owner] = dst
	}

	return s
}
