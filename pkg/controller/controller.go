// Package controller implements the reconcile state machine driving a
// Simulation from Blocked through Initializing and Running to a terminal
// Finished or Failed state, with a bounded Retrying loop for transient
// failures along the way (spec.md §4.6).
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/events"
	"github.com/acrlabs/simkube/pkg/metrics"
)

// MaxRetries bounds how many consecutive Retrying passes a Simulation may
// take before the controller gives up and marks it Failed.
const MaxRetries = 5

// RetryDelay is how long a Blocked-on-lease or Retrying simulation waits
// before the next reconcile attempt.
const RetryDelay = 10 * time.Second

// PollInterval is how often a Running simulation's driver Job is polled for
// completion.
const PollInterval = 5 * time.Second

// retryCountAnnotation tracks consecutive failed attempts across
// reconciles; it's cleared whenever a Simulation makes forward progress.
const retryCountAnnotation = "simkube.io/retry-count"

// preRunHookAnnotation marks that the PreRun hook has already fired for
// this Simulation, so re-entering Running (e.g. from Retrying) doesn't
// re-run it.
const preRunHookAnnotation = "simkube.io/prerun-hook-ran"

// Clock is the injection point for time, aliased to k8s.io/utils/clock.
// PassiveClock (mirroring pkg/watch.Clock and pkg/driver.Clock) so tests can
// control StartTime/EndTime stamping via k8s.io/utils/clock/testing.
type Clock = clock.PassiveClock

// Reconciler drives Simulation objects through the state machine described
// above. It owns the cluster-wide simulation lease and the SimulationRoot /
// driver Job it creates on a Simulation's behalf.
type Reconciler struct {
	Client        client.Client
	Recorder      events.Recorder
	Clock         Clock
	Hooks         Hooks
	Namespace     string // namespace the simulation lease lives in
	PodSvcAccount string // service account the driver Job's pod runs as
}

// New builds a Reconciler. clk defaults to clock.RealClock and Hooks to
// NoOpHooks if nil. rec is wrapped with event dedupe (pkg/events); it may be
// nil, matching a test Reconciler built without an event sink.
func New(c client.Client, rec record.EventRecorder, clk Clock, hooks Hooks, namespace, podSvcAccount string) *Reconciler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if hooks == nil {
		hooks = NoOpHooks{}
	}
	return &Reconciler{
		Client:        c,
		Recorder:      events.NewRecorder(rec),
		Clock:         clk,
		Hooks:         hooks,
		Namespace:     namespace,
		PodSvcAccount: podSvcAccount,
	}
}

// SetupWithManager registers the Reconciler with mgr, watching Simulations
// directly and Jobs whose controller owner is a Simulation. The driver Job is
// controlled by the SimulationRoot, so its status changes do not enqueue the
// Simulation; Running picks them up through PollInterval requeues.
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&skv1.Simulation{}, builder.WithPredicates(ObservedGenerationChanged)).
		Owns(&batchv1.Job{}).
		Complete(r)
}

// ObservedGenerationChanged reproduces original_source/sk-ctrl/src/main.rs's
// applied-object stream filter: an update event is only worth reconciling if
// status.observedGeneration is stale relative to metadata.generation. Every
// reconcile sets observedGeneration to match before returning, so this drops
// the echo event that our own status write otherwise causes, without also
// dropping the Job-owned watch (which isn't a Simulation event at all, so
// this predicate never runs against it).
var ObservedGenerationChanged = predicate.Funcs{
	CreateFunc: func(event.CreateEvent) bool { return true },
	DeleteFunc: func(event.DeleteEvent) bool { return true },
	GenericFunc: func(event.GenericEvent) bool { return true },
	UpdateFunc: func(e event.UpdateEvent) bool {
		sim, ok := e.ObjectNew.(*skv1.Simulation)
		if !ok {
			return true
		}
		return sim.Status.ObservedGeneration != sim.Generation
	},
}

// Reconcile implements the controller-runtime Reconciler contract.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := ctrllog.FromContext(ctx)

	sim := &skv1.Simulation{}
	if err := r.Client.Get(ctx, req.NamespacedName, sim); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("controller: fetching simulation: %w", err)
	}

	if sim.Status.State.IsTerminal() {
		return ctrl.Result{}, nil
	}

	result, reconcileErr := r.reconcileState(ctx, sim)

	sim.Status.ObservedGeneration = sim.Generation
	if err := r.Client.Status().Update(ctx, sim); err != nil {
		log.Error(err, "updating simulation status", "state", sim.Status.State)
		return ctrl.Result{}, err
	}
	if err := r.Client.Update(ctx, sim); err != nil && !apierrors.IsConflict(err) {
		log.Error(err, "updating simulation annotations")
	}

	return result, reconcileErr
}

func (r *Reconciler) reconcileState(ctx context.Context, sim *skv1.Simulation) (ctrl.Result, error) {
	switch sim.Status.State {
	case "", skv1.SimulationStateBlocked:
		return r.reconcileBlocked(ctx, sim)
	case skv1.SimulationStateInitializing:
		return r.reconcileInitializing(ctx, sim)
	case skv1.SimulationStateRunning:
		return r.reconcileRunning(ctx, sim)
	case skv1.SimulationStateRetrying:
		return r.reconcileRetrying(ctx, sim)
	case skv1.SimulationStateFinished, skv1.SimulationStateFailed:
		return ctrl.Result{}, nil
	default:
		return ctrl.Result{}, fmt.Errorf("controller: unknown simulation state %q", sim.Status.State)
	}
}

// reconcileBlocked tries to acquire the single-active-simulation lease. A
// lease held by somebody else just requeues; anything else that prevents
// acquisition is a reconcile error.
func (r *Reconciler) reconcileBlocked(ctx context.Context, sim *skv1.Simulation) (ctrl.Result, error) {
	now := r.Clock.Now().UTC()
	if err := acquireLease(ctx, r.Client, r.Namespace, sim.Name, now); err != nil {
		if errors.Is(err, ErrLeaseHeldByOther) {
			sim.Status.State = skv1.SimulationStateBlocked
			sim.Status.Message = err.Error()
			return ctrl.Result{RequeueAfter: RetryDelay}, nil
		}
		return ctrl.Result{}, err
	}

	sim.Status.State = skv1.SimulationStateInitializing
	sim.Status.Message = ""
	metrics.SimulationsActive.Set(1)
	return ctrl.Result{Requeue: true}, nil
}

// reconcileInitializing creates the SimulationRoot every owned resource is
// parented to, the driver Job, and runs the PreStart hooks, then transitions
// to Running.
func (r *Reconciler) reconcileInitializing(ctx context.Context, sim *skv1.Simulation) (ctrl.Result, error) {
	root := newSimulationRoot(sim)
	if err := r.Client.Create(ctx, root); err != nil && !apierrors.IsAlreadyExists(err) {
		return r.retryable(sim, fmt.Errorf("controller: creating simulation root: %w", err))
	}
	if err := r.Client.Get(ctx, client.ObjectKey{Name: root.Name}, root); err != nil {
		return r.retryable(sim, fmt.Errorf("controller: fetching simulation root: %w", err))
	}

	job := newDriverJob(sim, root, r.PodSvcAccount)
	if err := r.Client.Create(ctx, job); err != nil && !apierrors.IsAlreadyExists(err) {
		return r.retryable(sim, fmt.Errorf("controller: creating driver job: %w", err))
	}

	if err := r.Hooks.PreStart(ctx, sim); err != nil {
		return r.retryable(sim, fmt.Errorf("controller: PreStart hook: %w", err))
	}

	r.Recorder.Publish(events.Event{
		InvolvedObject: sim,
		Type:           "Normal",
		Reason:         "Initializing",
		Message:        "created simulation root and driver job",
		DedupeValues:   []string{sim.Name},
	})

	now := metav1.NewTime(r.Clock.Now().UTC())
	sim.Status.StartTime = &now
	sim.Status.State = skv1.SimulationStateRunning
	sim.Status.Message = ""
	clearRetryCount(sim)
	return ctrl.Result{Requeue: true}, nil
}

// reconcileRunning runs the PreRun hook once, then polls the driver Job's
// status until it succeeds or fails.
func (r *Reconciler) reconcileRunning(ctx context.Context, sim *skv1.Simulation) (ctrl.Result, error) {
	if sim.Annotations[preRunHookAnnotation] != "true" {
		if err := r.Hooks.PreRun(ctx, sim); err != nil {
			return r.retryable(sim, fmt.Errorf("controller: PreRun hook: %w", err))
		}
		if sim.Annotations == nil {
			sim.Annotations = map[string]string{}
		}
		sim.Annotations[preRunHookAnnotation] = "true"
	}

	job := &batchv1.Job{}
	jobKey := client.ObjectKey{Name: driverJobName(sim), Namespace: sim.Spec.Driver.Namespace}
	if err := r.Client.Get(ctx, jobKey, job); err != nil {
		return r.retryable(sim, fmt.Errorf("controller: fetching driver job: %w", err))
	}

	switch {
	case job.Status.Succeeded > 0:
		return r.finish(ctx, sim, skv1.SimulationStateFinished, "")
	case job.Status.Failed > 0:
		return r.finish(ctx, sim, skv1.SimulationStateFailed, "driver job failed")
	default:
		sim.Status.State = skv1.SimulationStateRunning
		clearRetryCount(sim)
		return ctrl.Result{RequeueAfter: PollInterval}, nil
	}
}

// reconcileRetrying is Running's transient-failure loop: it re-enters
// Running directly (spec.md §4.6: "Running -> Retrying -> Running re-entry
// permitted") rather than restarting from Initializing, since a Retrying
// transition only ever comes from a failed step within Running.
func (r *Reconciler) reconcileRetrying(ctx context.Context, sim *skv1.Simulation) (ctrl.Result, error) {
	if retryCount(sim) > MaxRetries {
		sim.Status.State = skv1.SimulationStateFailed
		sim.Status.Message = ErrMaxRetriesExceeded.Error()
		return ctrl.Result{}, nil
	}

	sim.Status.State = skv1.SimulationStateRunning
	return r.reconcileRunning(ctx, sim)
}

// finish runs the PostRun/PostStop hooks, releases the simulation lease,
// tears down the SimulationRoot (which cascades to every resource owned by
// it), and lands the Simulation in its terminal state.
func (r *Reconciler) finish(ctx context.Context, sim *skv1.Simulation, state skv1.SimulationState, message string) (ctrl.Result, error) {
	log := ctrllog.FromContext(ctx)

	if err := r.Hooks.PostRun(ctx, sim); err != nil {
		log.Error(err, "PostRun hook failed")
	}
	if err := r.Hooks.PostStop(ctx, sim); err != nil {
		log.Error(err, "PostStop hook failed")
	}

	if err := releaseLease(ctx, r.Client, r.Namespace, sim.Name); err != nil {
		return ctrl.Result{}, fmt.Errorf("controller: releasing simulation lease: %w", err)
	}
	metrics.SimulationsActive.Set(0)

	root := &skv1.SimulationRoot{}
	if err := r.Client.Get(ctx, client.ObjectKey{Name: rootName(sim)}, root); err == nil {
		if err := r.Client.Delete(ctx, root); err != nil && !apierrors.IsNotFound(err) {
			log.Error(err, "deleting simulation root")
		}
	}

	r.Recorder.Publish(events.Event{
		InvolvedObject: sim,
		Type:           "Normal",
		Reason:         string(state),
		Message:        message,
		DedupeValues:   []string{sim.Name},
	})

	now := metav1.NewTime(r.Clock.Now().UTC())
	sim.Status.EndTime = &now
	sim.Status.State = state
	sim.Status.Message = message
	return ctrl.Result{}, nil
}

// retryable records a transient failure and either schedules a Retrying
// pass or, once MaxRetries is exhausted, fails the simulation outright.
func (r *Reconciler) retryable(sim *skv1.Simulation, cause error) (ctrl.Result, error) {
	count := retryCount(sim) + 1
	if sim.Annotations == nil {
		sim.Annotations = map[string]string{}
	}
	sim.Annotations[retryCountAnnotation] = strconv.Itoa(count)

	if count > MaxRetries {
		sim.Status.State = skv1.SimulationStateFailed
		sim.Status.Message = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, cause).Error()
		return ctrl.Result{}, nil
	}

	sim.Status.State = skv1.SimulationStateRetrying
	sim.Status.Message = cause.Error()
	return ctrl.Result{RequeueAfter: RetryDelay}, cause
}

func retryCount(sim *skv1.Simulation) int {
	v, ok := sim.Annotations[retryCountAnnotation]
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

func clearRetryCount(sim *skv1.Simulation) {
	delete(sim.Annotations, retryCountAnnotation)
}
