// Package driver implements the replay engine: it consumes a frozen,
// imported trace store and drives apply/delete mutations against a target
// cluster on a time-dilated schedule, pausing when the owning Simulation
// asks it to.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/client"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/events"
	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/metrics"
	"github.com/acrlabs/simkube/pkg/store"
)

// DriverPausedWaitSeconds is how long Run sleeps between pause-state polls
// while a Simulation's paused_time is set and in the past.
const DriverPausedWaitSeconds = kube.DriverPausedWaitSeconds

// ApplyTimeout bounds how long a single object's apply or delete RPC may
// take before it's marked failed for that event (spec.md §5: "30s per
// object; on timeout the event is marked failed for that object but replay
// continues").
const ApplyTimeout = 30 * time.Second

const fieldManager = "simkube-driver"

// Clock is the injection point for time, aliased to k8s.io/utils/clock.
// PassiveClock (mirroring pkg/watch.Clock) so tests can drive the driver's
// pause-polling deterministically via k8s.io/utils/clock/testing.
type Clock = clock.PassiveClock

// Driver replays a frozen store's events against a target cluster.
type Driver struct {
	Store     *store.Store
	Discovery *discovery.Cache
	Client    client.Client
	Recorder  events.Recorder
	Clock     Clock

	Speed           float64
	SimName         string
	SimRootName     string
	SimNamespace    string
	VirtualNSPrefix string

	nsMu      sync.Mutex
	createdNS map[string]struct{}
}

// New builds a Driver. clk defaults to clock.RealClock and Speed to 1.0 if
// unset (zero value). recorder is wrapped with event dedupe (pkg/events)
// and may be nil.
func New(
	s *store.Store,
	disco *discovery.Cache,
	c client.Client,
	recorder record.EventRecorder,
	simName, simRootName, simNamespace, virtualNSPrefix string,
	speed float64,
	clk Clock,
) *Driver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if speed <= 0 {
		speed = 1.0
	}
	return &Driver{
		Store:           s,
		Discovery:       disco,
		Client:          c,
		Recorder:        events.NewRecorder(recorder),
		Clock:           clk,
		Speed:           speed,
		SimName:         simName,
		SimRootName:     simRootName,
		SimNamespace:    simNamespace,
		VirtualNSPrefix: virtualNSPrefix,
		createdNS:       map[string]struct{}{},
	}
}

// Run replays every event recorded in the store in order, honoring the
// pause gate and time-dilated step size between events. Per-object failures
// are aggregated and logged but never stop the replay; Run returns early
// only on context cancellation or when fetching the Simulation for the pause
// check fails.
func (d *Driver) Run(ctx context.Context) error {
	log := ctrllog.FromContext(ctx).WithValues("driver", d.SimName)
	events := d.Store.Iter()

	d.emitLifecycleEvent(ctx, corev1.EventTypeNormal, "ReplayStarted", "trace replay beginning")

	var errs error
	for _, ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.waitIfPaused(ctx); err != nil {
			return err
		}

		if err := d.replayEvent(ctx, log, ev); err != nil {
			errs = multierr.Append(errs, err)
		}

		step := stepSize(ev.Event.Ts, ev.NextTs, d.Speed)
		if step > 0 {
			if !sleepOrDone(ctx, step) {
				return ctx.Err()
			}
		}
	}

	if errs != nil {
		log.Error(errs, "replay completed with per-object errors")
	}
	d.emitLifecycleEvent(ctx, corev1.EventTypeNormal, "ReplayFinished", "trace replay complete")

	return nil
}

// waitIfPaused polls the owning Simulation; while spec.pausedTime is set
// and has already passed, it sleeps DriverPausedWaitSeconds and rechecks.
func (d *Driver) waitIfPaused(ctx context.Context) error {
	for {
		sim := &skv1.Simulation{}
		if err := d.Client.Get(ctx, client.ObjectKey{Name: d.SimName}, sim); err != nil {
			return fmt.Errorf("driver: fetching simulation %s: %w", d.SimName, err)
		}

		if sim.Spec.PausedTime == nil || sim.Spec.PausedTime.Time.Unix() > d.Clock.Now().Unix() {
			return nil
		}

		if !sleepOrDone(ctx, DriverPausedWaitSeconds*time.Second) {
			return ctx.Err()
		}
	}
}

// replayEvent issues every applied/deleted mutation in ev concurrently and
// waits for all of them (success or permanent failure) before returning, per
// spec.md §5's "must not advance to the next event until all operations for
// the current one have completed" rule.
func (d *Driver) replayEvent(ctx context.Context, log interface {
	Error(err error, msg string, kv ...interface{})
}, ev store.EventWithNext,
) error {
	started := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	for _, obj := range ev.Event.Applied {
		obj := obj
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(d.applyObject(ctx, obj))
		}()
	}
	for _, obj := range ev.Event.Deleted {
		obj := obj
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(d.deleteObject(ctx, obj))
		}()
	}
	wg.Wait()

	result := "ok"
	if errs != nil {
		result = "error"
		log.Error(errs, "event replay had per-object failures", "ts", ev.Event.Ts)
	}
	metrics.DriverStepDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())

	return errs
}

// applyObject rewrites obj's namespace to the virtual namespace, ensures
// that namespace exists, and issues a server-side-apply patch.
func (d *Driver) applyObject(ctx context.Context, obj *unstructured.Unstructured) error {
	ctx, cancel := context.WithTimeout(ctx, ApplyTimeout)
	defer cancel()

	rewritten := d.rewriteNamespace(obj)
	g := gvk.OfGVK(rewritten)
	resource, namespaced, err := d.Discovery.ResourceFor(ctx, g)
	if err != nil {
		return fmt.Errorf("driver: resolving resource for %s: %w", g, err)
	}

	if namespaced {
		if err := d.ensureNamespace(ctx, rewritten.GetNamespace()); err != nil {
			return fmt.Errorf("driver: ensuring namespace %s: %w", rewritten.GetNamespace(), err)
		}
	}

	data, err := json.Marshal(rewritten.Object)
	if err != nil {
		return fmt.Errorf("driver: marshaling %s/%s: %w", g, rewritten.GetName(), err)
	}

	force := true
	opts := metav1.PatchOptions{FieldManager: fieldManager, Force: &force}

	applyErr := retry.Do(func() error {
		var err error
		if namespaced {
			_, err = resource.Namespace(rewritten.GetNamespace()).Patch(
				ctx, rewritten.GetName(), types.ApplyPatchType, data, opts,
			)
		} else {
			_, err = resource.Patch(ctx, rewritten.GetName(), types.ApplyPatchType, data, opts)
		}
		return err
	}, retry.Context(ctx), retry.Attempts(3), retry.LastErrorOnly(true))

	metrics.DriverApplyTotal.WithLabelValues(g.String(), "apply", applyResult(ctx, applyErr)).Inc()
	return applyErr
}

// deleteObject rewrites obj's namespace and deletes it; NotFound counts as
// a successful delete.
func (d *Driver) deleteObject(ctx context.Context, obj *unstructured.Unstructured) error {
	ctx, cancel := context.WithTimeout(ctx, ApplyTimeout)
	defer cancel()

	rewritten := d.rewriteNamespace(obj)
	g := gvk.OfGVK(rewritten)
	resource, namespaced, err := d.Discovery.ResourceFor(ctx, g)
	if err != nil {
		return fmt.Errorf("driver: resolving resource for %s: %w", g, err)
	}

	var delErr error
	if namespaced {
		delErr = resource.Namespace(rewritten.GetNamespace()).Delete(ctx, rewritten.GetName(), metav1.DeleteOptions{})
	} else {
		delErr = resource.Delete(ctx, rewritten.GetName(), metav1.DeleteOptions{})
	}
	if delErr != nil && !apierrors.IsNotFound(delErr) {
		metrics.DriverApplyTotal.WithLabelValues(g.String(), "delete", applyResult(ctx, delErr)).Inc()
		return fmt.Errorf("driver: deleting %s/%s: %w", g, rewritten.GetName(), delErr)
	}
	metrics.DriverApplyTotal.WithLabelValues(g.String(), "delete", "ok").Inc()
	return nil
}

// applyResult labels a driver mutation outcome for the apply_total counter.
func applyResult(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "timeout"
	default:
		return "error"
	}
}

// rewriteNamespace returns a deep copy of obj with its namespace prefixed by
// VirtualNSPrefix and the original namespace preserved in the
// simkube.io/original-namespace annotation. Cluster-scoped objects (empty
// namespace) are returned unchanged besides re-sanitization.
func (d *Driver) rewriteNamespace(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := kube.SanitizeObject(obj)

	origNs := out.GetNamespace()
	if origNs == "" {
		return out
	}

	out.SetNamespace(d.VirtualNSPrefix + "-" + origNs)
	anns := out.GetAnnotations()
	if anns == nil {
		anns = map[string]string{}
	}
	anns[kube.OrigNamespaceAnnotationKey] = origNs
	out.SetAnnotations(anns)
	return out
}

var namespaceGVK = gvk.GVK{Group: "", Version: "v1", Kind: "Namespace"}

// ensureNamespace creates the virtual namespace on first use. Concurrent
// callers asking about the same namespace may race to create it; a
// successful Get, or an AlreadyExists response from the Create, is treated
// as success.
func (d *Driver) ensureNamespace(ctx context.Context, ns string) error {
	d.nsMu.Lock()
	_, ok := d.createdNS[ns]
	d.nsMu.Unlock()
	if ok {
		return nil
	}

	resource, _, err := d.Discovery.ResourceFor(ctx, namespaceGVK)
	if err != nil {
		return err
	}

	if _, err := resource.Get(ctx, ns, metav1.GetOptions{}); err == nil {
		d.markNamespaceCreated(ns)
		return nil
	} else if !apierrors.IsNotFound(err) {
		return err
	}

	nsObj := &unstructured.Unstructured{}
	nsObj.SetAPIVersion("v1")
	nsObj.SetKind("Namespace")
	nsObj.SetName(ns)

	if _, err := resource.Create(ctx, nsObj, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	d.markNamespaceCreated(ns)
	return nil
}

func (d *Driver) markNamespaceCreated(ns string) {
	d.nsMu.Lock()
	d.createdNS[ns] = struct{}{}
	d.nsMu.Unlock()
}

// emitLifecycleEvent records a Kubernetes Event against the SimulationRoot
// so a watching controller can observe driver start/end without polling the
// driver process directly.
func (d *Driver) emitLifecycleEvent(_ context.Context, eventType, reason, message string) {
	root := &skv1.SimulationRoot{
		TypeMeta:   metav1.TypeMeta{APIVersion: skv1.GroupVersion.String(), Kind: "SimulationRoot"},
		ObjectMeta: metav1.ObjectMeta{Name: d.SimRootName, Namespace: d.SimNamespace},
	}
	d.Recorder.Publish(events.Event{
		InvolvedObject: root,
		Type:           eventType,
		Reason:         reason,
		Message:        message,
		DedupeValues:   []string{d.SimName, reason},
	})
}

// stepSize computes how long to sleep between ts and nextTs at the given
// replay speed: spec.md §4.4's `max(0, ts_next - ts_curr) / speed` seconds
// of wall time. nextTs < 0 (the final event) sleeps zero.
func stepSize(ts, nextTs int64, speed float64) time.Duration {
	if nextTs < 0 {
		return 0
	}
	delta := nextTs - ts
	if delta < 0 {
		delta = 0
	}
	secs := float64(delta) / speed
	return time.Duration(secs * float64(time.Second))
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
