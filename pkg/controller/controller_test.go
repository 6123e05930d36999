package controller

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clocktesting "k8s.io/utils/clock/testing"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/event"

	skv1 "github.com/acrlabs/simkube/api/v1"
)

func updateEventFor(sim *skv1.Simulation) event.UpdateEvent {
	old := sim.DeepCopyObject().(*skv1.Simulation)
	return event.UpdateEvent{ObjectOld: old, ObjectNew: sim}
}

func newReconcileTestClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	for _, add := range []func(*runtime.Scheme) error{skv1.AddToScheme, batchv1.AddToScheme, coordinationv1.AddToScheme} {
		if err := add(scheme); err != nil {
			t.Fatalf("registering scheme: %v", err)
		}
	}
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&skv1.Simulation{}).
		WithObjects(objs...).
		Build()
}

func simulationWithState(name string, state skv1.SimulationState) *skv1.Simulation {
	return &skv1.Simulation{
		ObjectMeta: metav1.ObjectMeta{Name: name, Generation: 1},
		Spec: skv1.SimulationSpec{
			Driver: skv1.SimulationDriverConfig{Namespace: "sk-system", Image: "simkube/driver:latest"},
		},
		Status: skv1.SimulationStatus{State: state},
	}
}

func getSimulation(t *testing.T, c client.Client, name string) *skv1.Simulation {
	t.Helper()
	sim := &skv1.Simulation{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: name}, sim); err != nil {
		t.Fatalf("fetching simulation %s: %v", name, err)
	}
	return sim
}

func TestReconcileBlockedAcquiresLeaseAndAdvances(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateBlocked)
	c := newReconcileTestClient(t, sim)
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(100, 0)), nil, "sk-system", "driver-sa")

	result, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Requeue {
		t.Errorf("expected an immediate requeue after acquiring the lease, got %+v", result)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateInitializing {
		t.Errorf("expected state Initializing, got %s", got.Status.State)
	}

	lease := &coordinationv1.Lease{}
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "sk-system", Name: "sk-lease"}, lease); err != nil {
		t.Fatalf("expected lease to have been created: %v", err)
	}
}

func TestReconcileBlockedStaysBlockedWhenLeaseHeldByAnother(t *testing.T) {
	now := time.Unix(100, 0).UTC()
	existingLease := newLease("sk-system", "sim-other", now)
	sim := simulationWithState("sim-1", skv1.SimulationStateBlocked)
	c := newReconcileTestClient(t, sim, existingLease)
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(100, 0)), nil, "sk-system", "driver-sa")

	result, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.RequeueAfter <= 0 {
		t.Errorf("expected a delayed requeue while blocked, got %+v", result)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateBlocked {
		t.Errorf("expected state to remain Blocked, got %s", got.Status.State)
	}
}

func TestReconcileInitializingCreatesRootAndJobThenRuns(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateInitializing)
	c := newReconcileTestClient(t, sim)
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(100, 0)), nil, "sk-system", "driver-sa")

	result, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Requeue {
		t.Errorf("expected an immediate requeue after initializing, got %+v", result)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateRunning {
		t.Errorf("expected state Running, got %s", got.Status.State)
	}
	if got.Status.StartTime == nil {
		t.Errorf("expected StartTime to be stamped")
	}

	root := &skv1.SimulationRoot{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: rootName(sim)}, root); err != nil {
		t.Fatalf("expected simulation root to have been created: %v", err)
	}

	job := &batchv1.Job{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: driverJobName(sim), Namespace: "sk-system"}, job); err != nil {
		t.Fatalf("expected driver job to have been created: %v", err)
	}
}

func TestReconcileRunningFinishesOnJobSuccess(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateRunning)
	sim.Annotations = map[string]string{preRunHookAnnotation: "true"}
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: driverJobName(sim), Namespace: "sk-system"},
		Status:     batchv1.JobStatus{Succeeded: 1},
	}
	c := newReconcileTestClient(t, sim, job)
	now := time.Unix(100, 0).UTC()
	if err := c.Create(context.Background(), newLease("sk-system", "sim-1", now)); err != nil {
		t.Fatalf("seeding lease: %v", err)
	}
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(200, 0)), nil, "sk-system", "driver-sa")

	result, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Requeue || result.RequeueAfter != 0 {
		t.Errorf("expected no further requeue once finished, got %+v", result)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateFinished {
		t.Errorf("expected state Finished, got %s", got.Status.State)
	}
	if got.Status.EndTime == nil {
		t.Errorf("expected EndTime to be stamped")
	}
}

func TestReconcileRunningFailsOnJobFailure(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateRunning)
	sim.Annotations = map[string]string{preRunHookAnnotation: "true"}
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: driverJobName(sim), Namespace: "sk-system"},
		Status:     batchv1.JobStatus{Failed: 1},
	}
	c := newReconcileTestClient(t, sim, job)
	now := time.Unix(100, 0).UTC()
	if err := c.Create(context.Background(), newLease("sk-system", "sim-1", now)); err != nil {
		t.Fatalf("seeding lease: %v", err)
	}
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(200, 0)), nil, "sk-system", "driver-sa")

	if _, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateFailed {
		t.Errorf("expected state Failed, got %s", got.Status.State)
	}
}

func TestReconcileTerminalStateIsANoop(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateFinished)
	c := newReconcileTestClient(t, sim)
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(100, 0)), nil, "sk-system", "driver-sa")

	result, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Requeue || result.RequeueAfter != 0 {
		t.Errorf("expected a terminal simulation to produce no requeue, got %+v", result)
	}
}

func TestReconcileRetryingFailsPermanentlyOnceMaxRetriesExceeded(t *testing.T) {
	sim := simulationWithState("sim-1", skv1.SimulationStateRetrying)
	sim.Annotations = map[string]string{retryCountAnnotation: "6"}
	c := newReconcileTestClient(t, sim)
	r := New(c, nil, clocktesting.NewFakeClock(time.Unix(100, 0)), nil, "sk-system", "driver-sa")

	if _, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "sim-1"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got := getSimulation(t, c, "sim-1")
	if got.Status.State != skv1.SimulationStateFailed {
		t.Errorf("expected state Failed once retries are exhausted, got %s", got.Status.State)
	}
}

func TestObservedGenerationChangedPredicateDropsEchoUpdates(t *testing.T) {
	sim := &skv1.Simulation{ObjectMeta: metav1.ObjectMeta{Generation: 2}, Status: skv1.SimulationStatus{ObservedGeneration: 2}}
	if ObservedGenerationChanged.UpdateFunc(updateEventFor(sim)) {
		t.Errorf("expected predicate to drop an update whose observedGeneration already matches")
	}

	stale := &skv1.Simulation{ObjectMeta: metav1.ObjectMeta{Generation: 3}, Status: skv1.SimulationStatus{ObservedGeneration: 2}}
	if !ObservedGenerationChanged.UpdateFunc(updateEventFor(stale)) {
		t.Errorf("expected predicate to accept an update with a stale observedGeneration")
	}
}
