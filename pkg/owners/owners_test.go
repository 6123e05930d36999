package owners

import (
	"context"
	"sync/atomic"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/acrlabs/simkube/pkg/gvk"
)

var (
	podGVK        = gvk.GVK{Group: "", Version: "v1", Kind: "Pod"}
	rsGVK         = gvk.GVK{Group: "apps", Version: "v1", Kind: "ReplicaSet"}
	deploymentGVK = gvk.GVK{Group: "apps", Version: "v1", Kind: "Deployment"}
	rootGVK       = gvk.GVK{Group: "simkube.io", Version: "v1", Kind: "SimulationRoot"}
)

func controllerOwner(kind, name string) metav1.OwnerReference {
	t := true
	return metav1.OwnerReference{APIVersion: apiVersionFor(kind), Kind: kind, Name: name, Controller: &t}
}

func apiVersionFor(kind string) string {
	switch kind {
	case "ReplicaSet", "Deployment":
		return "apps/v1"
	case "SimulationRoot":
		return "simkube.io/v1"
	default:
		return "v1"
	}
}

type fakeResolver struct {
	calls int32
	refs  map[key][]metav1.OwnerReference
}

func (f *fakeResolver) OwnerReferences(_ context.Context, g gvk.GVK, n gvk.NsName) ([]metav1.OwnerReference, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.refs[key{gvk: g, nsName: n}], nil
}

func TestChainWalksToRoot(t *testing.T) {
	ns := "ns"
	pod := gvk.NsName{Namespace: ns, Name: "pod-1"}
	rs := gvk.NsName{Namespace: ns, Name: "rs-1"}
	depl := gvk.NsName{Namespace: ns, Name: "depl-1"}
	root := gvk.NsName{Namespace: ns, Name: "sim-X"}

	resolver := &fakeResolver{refs: map[key][]metav1.OwnerReference{
		{gvk: podGVK, nsName: pod}:        {controllerOwner("ReplicaSet", "rs-1")},
		{gvk: rsGVK, nsName: rs}:          {controllerOwner("Deployment", "depl-1")},
		{gvk: deploymentGVK, nsName: depl}: {controllerOwner("SimulationRoot", "sim-X")},
		{gvk: rootGVK, nsName: root}:      nil,
	}}

	c, err := New(resolver)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chain, err := c.Chain(context.Background(), podGVK, pod)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}

	want := []Link{
		{GVK: podGVK, NsName: pod},
		{GVK: rsGVK, NsName: rs},
		{GVK: deploymentGVK, NsName: depl},
		{GVK: rootGVK, NsName: root},
	}
	if len(chain) != len(want) {
		t.Fatalf("chain length: got %d, want %d: %+v", len(chain), len(want), chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %+v, want %+v", i, chain[i], want[i])
		}
	}
}

func TestChainDetectsCycle(t *testing.T) {
	ns := "ns"
	a := gvk.NsName{Namespace: ns, Name: "a"}
	b := gvk.NsName{Namespace: ns, Name: "b"}

	resolver := &fakeResolver{refs: map[key][]metav1.OwnerReference{
		{gvk: podGVK, nsName: a}: {controllerOwner("ReplicaSet", "b")},
		{gvk: rsGVK, nsName: b}:  {controllerOwner("Pod", "a")},
	}}

	c, err := New(resolver)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Chain(context.Background(), podGVK, a); err != ErrCycleDetected {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestOwnerReferencesCaches(t *testing.T) {
	ns := "ns"
	pod := gvk.NsName{Namespace: ns, Name: "pod-1"}
	resolver := &fakeResolver{refs: map[key][]metav1.OwnerReference{
		{gvk: podGVK, nsName: pod}: {controllerOwner("ReplicaSet", "rs-1")},
	}}

	c, err := New(resolver)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := c.OwnerReferences(context.Background(), podGVK, pod); err != nil {
			t.Fatalf("OwnerReferences: %v", err)
		}
	}

	if resolver.calls != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", resolver.calls)
	}
}
