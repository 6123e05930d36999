package driver

import (
	"context"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	clocktesting "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/kube"
)

func TestStepSize(t *testing.T) {
	cases := []struct {
		name          string
		ts, nextTs    int64
		speed         float64
		expectSeconds float64
	}{
		{"final event sleeps zero", 100, -1, 1.0, 0},
		{"equal speed is wall clock delta", 100, 110, 1.0, 10},
		{"double speed halves the wait", 100, 110, 2.0, 5},
		{"out-of-order timestamps clamp to zero", 110, 100, 1.0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stepSize(tc.ts, tc.nextTs, tc.speed)
			want := time.Duration(tc.expectSeconds * float64(time.Second))
			if got != want {
				t.Errorf("stepSize(%d, %d, %f) = %v, want %v", tc.ts, tc.nextTs, tc.speed, got, want)
			}
		})
	}
}

func namespacedObj(ns, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"namespace": ns,
			"name":      name,
		},
	}}
}

func TestRewriteNamespacePrefixesAndAnnotates(t *testing.T) {
	d := &Driver{VirtualNSPrefix: "virt"}
	obj := namespacedObj("default", "pod-1")

	out := d.rewriteNamespace(obj)

	if got := out.GetNamespace(); got != "virt-default" {
		t.Errorf("expected namespace virt-default, got %q", got)
	}
	if got := out.GetAnnotations()[kube.OrigNamespaceAnnotationKey]; got != "default" {
		t.Errorf("expected original-namespace annotation default, got %q", got)
	}
}

func TestRewriteNamespaceLeavesClusterScopedAlone(t *testing.T) {
	d := &Driver{VirtualNSPrefix: "virt"}
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Namespace",
		"metadata":   map[string]interface{}{"name": "some-ns"},
	}}

	out := d.rewriteNamespace(obj)

	if out.GetNamespace() != "" {
		t.Errorf("expected cluster-scoped object to stay unnamespaced, got %q", out.GetNamespace())
	}
	if _, ok := out.GetAnnotations()[kube.OrigNamespaceAnnotationKey]; ok {
		t.Errorf("expected no original-namespace annotation on a cluster-scoped object")
	}
}

func newFakeDriverClient(t *testing.T, sim *skv1.Simulation) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := skv1.AddToScheme(scheme); err != nil {
		t.Fatalf("registering scheme: %v", err)
	}
	return fake.NewClientBuilder().WithScheme(scheme).WithObjects(sim).Build()
}

func TestWaitIfPausedReturnsImmediatelyWhenNotPaused(t *testing.T) {
	sim := &skv1.Simulation{ObjectMeta: metav1.ObjectMeta{Name: "sim-1"}}
	d := New(nil, nil, newFakeDriverClient(t, sim), nil, "sim-1", "", "", "virt", 1.0, clocktesting.NewFakeClock(time.Unix(100, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.waitIfPaused(ctx); err != nil {
		t.Fatalf("expected no error when unpaused, got %v", err)
	}
}

func TestWaitIfPausedReturnsImmediatelyWhenPauseIsInFuture(t *testing.T) {
	future := metav1.NewTime(time.Unix(1000, 0))
	sim := &skv1.Simulation{
		ObjectMeta: metav1.ObjectMeta{Name: "sim-1"},
		Spec:       skv1.SimulationSpec{PausedTime: &future},
	}
	d := New(nil, nil, newFakeDriverClient(t, sim), nil, "sim-1", "", "", "virt", 1.0, clocktesting.NewFakeClock(time.Unix(100, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.waitIfPaused(ctx); err != nil {
		t.Fatalf("expected no error when pause time hasn't arrived, got %v", err)
	}
}

func TestWaitIfPausedBlocksUntilContextCancelled(t *testing.T) {
	past := metav1.NewTime(time.Unix(100, 0))
	sim := &skv1.Simulation{
		ObjectMeta: metav1.ObjectMeta{Name: "sim-1"},
		Spec:       skv1.SimulationSpec{PausedTime: &past},
	}
	d := New(nil, nil, newFakeDriverClient(t, sim), nil, "sim-1", "", "", "virt", 1.0, clocktesting.NewFakeClock(time.Unix(200, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.waitIfPaused(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error while paused, got nil")
	}
}
