package store

import (
	"github.com/samber/lo"

	"github.com/acrlabs/simkube/pkg/gvk"
)

// traceIndex tracks, for every tracked GVK, the stable hash last recorded
// for each namespaced object. It lets Store tell whether an incoming Apply
// is a genuine change (different hash) or a no-op (same hash), and lets
// ReconcileSnapshot diff a fresh listing against what's already indexed.
type traceIndex struct {
	byGVK map[gvk.GVK]map[gvk.NsName]uint64
}

func newTraceIndex() *traceIndex {
	return &traceIndex{byGVK: map[gvk.GVK]map[gvk.NsName]uint64{}}
}

func (idx *traceIndex) get(g gvk.GVK, n gvk.NsName) (uint64, bool) {
	byName, ok := idx.byGVK[g]
	if !ok {
		return 0, false
	}
	h, ok := byName[n]
	return h, ok
}

func (idx *traceIndex) insert(g gvk.GVK, n gvk.NsName, hash uint64) {
	byName, ok := idx.byGVK[g]
	if !ok {
		byName = map[gvk.NsName]uint64{}
		idx.byGVK[g] = byName
	}
	byName[n] = hash
}

func (idx *traceIndex) remove(g gvk.GVK, n gvk.NsName) {
	byName, ok := idx.byGVK[g]
	if !ok {
		return
	}
	delete(byName, n)
	if len(byName) == 0 {
		delete(idx.byGVK, g)
	}
}

// takeGVK removes and returns the full name->hash index for g, or an empty
// map if nothing is indexed for g. ReconcileSnapshot reads byGVK directly
// and does not call it.
func (idx *traceIndex) takeGVK(g gvk.GVK) map[gvk.NsName]uint64 {
	byName, ok := idx.byGVK[g]
	if !ok {
		return map[gvk.NsName]uint64{}
	}
	delete(idx.byGVK, g)
	return byName
}

func (idx *traceIndex) contains(g gvk.GVK, n gvk.NsName) bool {
	_, ok := idx.get(g, n)
	return ok
}

func (idx *traceIndex) len() int {
	return lo.SumBy(lo.Values(idx.byGVK), func(byName map[gvk.NsName]uint64) int { return len(byName) })
}

func (idx *traceIndex) isEmpty() bool {
	return idx.len() == 0
}

// indexedKey pairs a tracked GVK with the namespaced name indexed under it.
type indexedKey struct {
	GVK    gvk.GVK
	NsName gvk.NsName
}

// flattenedKeys returns every (GVK, NsName) pair currently indexed, in no
// particular order.
func (idx *traceIndex) flattenedKeys() []indexedKey {
	return lo.FlatMap(lo.Entries(idx.byGVK), func(e lo.Entry[gvk.GVK, map[gvk.NsName]uint64], _ int) []indexedKey {
		return lo.Map(lo.Keys(e.Value), func(n gvk.NsName, _ int) indexedKey {
			return indexedKey{GVK: e.Key, NsName: n}
		})
	})
}
