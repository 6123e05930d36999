package store

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
)

// podOwnerEntry is what podOwnersMap remembers about a single pod: which
// owner it currently belongs to, the stable hash of its sanitized spec, and
// which sequence number (the Nth pod this owner has spawned with that exact
// spec) its lifecycle is recorded under.
type podOwnerEntry struct {
	Owner    gvk.NsName
	Hash     uint64
	Sequence int
}

// podOwnersMap is the two-way index described by the trace store's pod
// lifecycle tracking: pod_ns_name -> (owner_ns_name, pod_hash, sequence) on
// one side, owner_ns_name -> (pod_hash -> [lifecycle, one per sequence]) on
// the other. Re-recording the same pod updates its lifecycle in place;
// recording a pod under a new owner/hash pair (e.g. after the owning
// Deployment rolled and replaced it) allocates a fresh sequence slot so the
// old pod's history is preserved.
//
// The upstream implementation this is ported from predates its own
// retrieval snapshot, so this structure is built directly from the trace
// store's documented behavior rather than transliterated line-for-line.
type podOwnersMap struct {
	byPod   map[gvk.NsName]podOwnerEntry
	byOwner map[gvk.NsName]map[uint64][]kube.PodLifecycleData
}

func newPodOwnersMap() *podOwnersMap {
	return &podOwnersMap{
		byPod:   map[gvk.NsName]podOwnerEntry{},
		byOwner: map[gvk.NsName]map[uint64][]kube.PodLifecycleData{},
	}
}

// ownerOf picks the pod's owning object out of its owner-reference list.
// A pod normally has exactly one controller reference; without one the first
// owner reference is used, and a pod with no owner references at all (a bare
// pod) is treated as owning itself.
func ownerOf(podNsName gvk.NsName, owners []metav1.OwnerReference) gvk.NsName {
	for _, o := range owners {
		if o.Controller != nil && *o.Controller {
			return gvk.NsName{Namespace: podNsName.Namespace, Name: o.Name}
		}
	}
	if len(owners) > 0 {
		return gvk.NsName{Namespace: podNsName.Namespace, Name: owners[0].Name}
	}
	return podNsName
}

// record stores lifecycleData for podNsName: a pod already recorded under
// the same owner/hash has its lifecycle advanced in place, any other gets a
// new sequence slot under that owner/hash. It returns nothing.
func (m *podOwnersMap) record(
	podNsName gvk.NsName,
	owners []metav1.OwnerReference,
	hash uint64,
	lifecycleData kube.PodLifecycleData,
) {
	owner := ownerOf(podNsName, owners)

	byHash, ok := m.byOwner[owner]
	if !ok {
		byHash = map[uint64][]kube.PodLifecycleData{}
		m.byOwner[owner] = byHash
	}

	if existing, ok := m.byPod[podNsName]; ok && existing.Owner == owner && existing.Hash == hash {
		seq := existing.Sequence
		byHash[hash][seq] = kube.Advance(byHash[hash][seq], lifecycleData)
		return
	}

	seq := len(byHash[hash])
	byHash[hash] = append(byHash[hash], lifecycleData)
	m.byPod[podNsName] = podOwnerEntry{Owner: owner, Hash: hash, Sequence: seq}
}

// lookup returns the currently-recorded lifecycle for podNsName, or
// kube.Empty if nothing has been recorded for it.
func (m *podOwnersMap) lookup(podNsName gvk.NsName) kube.PodLifecycleData {
	entry, ok := m.byPod[podNsName]
	if !ok {
		return kube.Empty
	}
	byHash, ok := m.byOwner[entry.Owner]
	if !ok {
		return kube.Empty
	}
	lifecycles := byHash[entry.Hash]
	if entry.Sequence < 0 || entry.Sequence >= len(lifecycles) {
		return kube.Empty
	}
	return lifecycles[entry.Sequence]
}

// lifecyclesForOwner returns every recorded lifecycle sequence for owner
// under hash. Export reads byOwner through PodLifecyclesOverlapping instead.
func (m *podOwnersMap) lifecyclesForOwner(owner gvk.NsName, hash uint64) []kube.PodLifecycleData {
	return m.byOwner[owner][hash]
}
