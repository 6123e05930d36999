// Command controller runs the Simulation reconcile loop and the mutating
// admission webhook that redirects simulation pods onto virtual nodes
// (spec.md §4.6, §4.5). Only one Simulation is ever active at a time (the
// lease in pkg/controller enforces this), so the admission webhook's target
// SimulationRoot is kept in sync with whichever Simulation is currently
// Initializing, Running, or Retrying.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/admission"
	"github.com/acrlabs/simkube/pkg/controller"
	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/gvk"
	"github.com/acrlabs/simkube/pkg/kube"
	"github.com/acrlabs/simkube/pkg/owners"
)

type options struct {
	metricsAddr   string
	admissionAddr string
	namespace     string
	podSvcAccount string
	debugPort     int
}

func main() {
	opts := options{}
	pflag.StringVar(&opts.metricsAddr, "metrics-addr", ":8080", "address the Prometheus metrics endpoint binds to")
	pflag.StringVar(&opts.admissionAddr, "admission-addr", ":9443", "address the mutating admission webhook binds to")
	pflag.StringVar(&opts.namespace, "namespace", os.Getenv(kube.CtrlNamespaceEnvVar), "namespace the simulation lease lives in")
	pflag.StringVar(&opts.podSvcAccount, "pod-svc-account", os.Getenv(kube.PodSvcAccountEnvVar), "service account the driver job's pod runs as")
	pflag.IntVar(&opts.debugPort, "debug-port", 6060, "pprof debug port; 0 disables it")
	pflag.Parse()

	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)
	ctrllog.SetLogger(log)

	if opts.debugPort != 0 {
		go func() {
			log.Info("debug port listening", "port", opts.debugPort)
			log.Error(http.ListenAndServe(fmt.Sprintf(":%d", opts.debugPort), nil), "debug server exited")
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, log); err != nil {
		log.Error(err, "controller exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logr.Logger) error {
	scheme := runtime.NewScheme()
	if err := skv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("controller: registering simkube scheme: %w", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("controller: registering core scheme: %w", err)
	}
	if err := batchv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("controller: registering batch scheme: %w", err)
	}
	if err := coordinationv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("controller: registering coordination scheme: %w", err)
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("controller: loading kubeconfig: %w", err)
	}

	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme:  scheme,
		Metrics: metricsserver.Options{BindAddress: "0"}, // served separately below, matching the tracer/driver binaries
	})
	if err != nil {
		return fmt.Errorf("controller: building manager: %w", err)
	}

	rec := controller.New(mgr.GetClient(), mgr.GetEventRecorderFor("simkube-controller"), nil, nil, opts.namespace, opts.podSvcAccount)
	if err := rec.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("controller: registering reconciler: %w", err)
	}

	disco, err := discovery.New(restCfg)
	if err != nil {
		return fmt.Errorf("controller: building discovery cache: %w", err)
	}
	ownersCache, err := owners.New(&owners.DynamicResolver{Discovery: disco})
	if err != nil {
		return fmt.Errorf("controller: building owners cache: %w", err)
	}

	dyn := &admission.DynamicMutator{}
	go watchActiveSimulation(ctx, mgr.GetAPIReader(), ownersCache, dyn, log)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
		log.Error(http.ListenAndServe(opts.metricsAddr, mux), "metrics server exited")
	}()
	go func() {
		httpSrv := &http.Server{Addr: opts.admissionAddr, Handler: dyn}
		go func() {
			<-ctx.Done()
			_ = httpSrv.Close()
		}()
		log.Info("admission webhook listening", "addr", opts.admissionAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "admission server exited")
		}
	}()

	log.Info("controller starting")
	return mgr.Start(ctx)
}

// activeSimulationPollInterval bounds how stale the admission webhook's
// target can be relative to a Simulation's state transition.
const activeSimulationPollInterval = 2 * time.Second

// watchActiveSimulation polls for the Simulation currently occupying the
// cluster-wide lease (Initializing, Running, or Retrying: the states in
// which a SimulationRoot and driver job exist) and repoints the admission
// webhook's Mutator at its SimulationRoot. At most one can be active at a
// time, so the first match found is authoritative; none found clears the
// mutator back to allow-everything.
func watchActiveSimulation(
	ctx context.Context,
	reader client.Reader,
	ownersCache *owners.Cache,
	dyn *admission.DynamicMutator,
	log logr.Logger,
) {
	ticker := time.NewTicker(activeSimulationPollInterval)
	defer ticker.Stop()

	rootGVK := gvk.GVK{Group: skv1.GroupVersion.Group, Version: skv1.GroupVersion.Version, Kind: "SimulationRoot"}

	var current string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var sims skv1.SimulationList
		if err := reader.List(ctx, &sims); err != nil {
			log.Error(err, "listing simulations")
			continue
		}

		active, found := activeSimulation(sims.Items)
		if !found {
			if current != "" {
				dyn.Set(nil)
				current = ""
			}
			continue
		}
		if active.Name == current {
			continue
		}

		rootNsName := gvk.NsName{Name: fmt.Sprintf("sk-%s-metaroot", active.Name)}
		dyn.Set(admission.NewMutator(ownersCache, rootGVK, rootNsName, active.Name))
		current = active.Name
		log.Info("admission webhook retargeted", "simulation", active.Name, "state", active.Status.State)
	}
}

func activeSimulation(sims []skv1.Simulation) (*skv1.Simulation, bool) {
	for i := range sims {
		switch sims[i].Status.State {
		case skv1.SimulationStateInitializing, skv1.SimulationStateRunning, skv1.SimulationStateRetrying:
			return &sims[i], true
		}
	}
	return nil, false
}
