// Package metrics registers the process-wide Prometheus counters exposed by
// the tracer, driver, and controller binaries, following the teacher's
// crmetrics.Registry pattern (cmd/controller-kwok/main.go,
// pkg/batcher/metrics.go): metrics are package-level vars registered against
// controller-runtime's shared registry at import time, not wired through a
// constructor. ServiceMonitor/Operator provisioning is out of scope
// (spec.md §1 Non-goals); this package only installs the metrics themselves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "simkube"

var (
	// EventsAppended counts trace events appended to the store, labeled by
	// GVK, from Store.Apply/Delete.
	EventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "events_appended_total",
		Help:      "Number of trace events appended to the store.",
	}, []string{"gvk"})

	// ObjectsWatched is the count of objects tracked per GVK, set to the
	// listed count after each relist's Store.ReconcileSnapshot call in
	// DynObjWatcher.Run.
	ObjectsWatched = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watch",
		Name:      "objects_watched",
		Help:      "Number of objects currently tracked by a watcher.",
	}, []string{"gvk"})

	// DriverApplyTotal counts driver apply/delete outcomes by object GVK
	// and result (ok, timeout, error).
	DriverApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "driver",
		Name:      "apply_total",
		Help:      "Number of driver apply/delete operations by outcome.",
	}, []string{"gvk", "op", "result"})

	// DriverStepDuration observes the wall-clock time spent applying a
	// single replay step, before time-dilation sleep.
	DriverStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "driver",
		Name:      "step_duration_seconds",
		Help:      "Wall-clock duration of a single replay step's mutations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	// SimulationsActive is 1 while the controller's simulation lease is
	// held, 0 otherwise; a gauge rather than a counter because at most one
	// simulation is ever active at a time (spec.md §4.6).
	SimulationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "simulations_active",
		Help:      "Whether a simulation currently holds the cluster-wide lease (0 or 1).",
	})
)

func init() {
	crmetrics.Registry.MustRegister(
		EventsAppended,
		ObjectsWatched,
		DriverApplyTotal,
		DriverStepDuration,
		SimulationsActive,
	)
}
