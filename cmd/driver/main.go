// Command driver replays a previously-exported trace against a target
// cluster, rewriting objects onto a virtual namespace and pausing in step
// with the owning Simulation's spec.pausedTime (spec.md §4.4).
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	skv1 "github.com/acrlabs/simkube/api/v1"
	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/driver"
	"github.com/acrlabs/simkube/pkg/export"
	"github.com/acrlabs/simkube/pkg/kube"
)

type options struct {
	tracePath       string
	simName         string
	simRootName     string
	simNamespace    string
	virtualNSPrefix string
	speed           float64
	metricsAddr     string
	debugPort       int
}

func main() {
	opts := options{}
	pflag.StringVar(&opts.tracePath, "trace-path", "", "path to the exported MessagePack trace file")
	pflag.StringVar(&opts.simName, "sim-name", os.Getenv(kube.DriverNameEnvVar), "name of the owning Simulation")
	pflag.StringVar(&opts.simRootName, "sim-root-name", "", "name of the owning SimulationRoot")
	pflag.StringVar(&opts.simNamespace, "sim-namespace", os.Getenv(kube.CtrlNamespaceEnvVar), "namespace lifecycle events are recorded against")
	pflag.StringVar(&opts.virtualNSPrefix, "virtual-ns-prefix", "virt", "prefix prepended to every replayed object's namespace")
	pflag.Float64Var(&opts.speed, "speed", 1.0, "replay speed multiplier")
	pflag.StringVar(&opts.metricsAddr, "metrics-addr", ":8080", "address the Prometheus metrics endpoint binds to")
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
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
		log.Error(http.ListenAndServe(opts.metricsAddr, mux), "metrics server exited")
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Error(err, "driver exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	data, err := os.ReadFile(opts.tracePath)
	if err != nil {
		return fmt.Errorf("driver: reading trace %s: %w", opts.tracePath, err)
	}

	s, err := export.Import(data, nil)
	if err != nil {
		return fmt.Errorf("driver: importing trace: %w", err)
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("driver: loading kubeconfig: %w", err)
	}

	disco, err := discovery.New(restCfg)
	if err != nil {
		return fmt.Errorf("driver: building discovery cache: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := skv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("driver: registering scheme: %w", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("driver: registering scheme: %w", err)
	}

	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("driver: building client: %w", err)
	}

	kubeClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("driver: building event client: %w", err)
	}
	recorder := buildRecorder(kubeClient, scheme, opts.simNamespace)

	d := driver.New(s, disco, c, recorder, opts.simName, opts.simRootName, opts.simNamespace, opts.virtualNSPrefix, opts.speed, nil)
	return d.Run(ctx)
}

func buildRecorder(kubeClient kubernetes.Interface, scheme *runtime.Scheme, namespace string) record.EventRecorder {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: kubeClient.CoreV1().Events(namespace)})
	return broadcaster.NewRecorder(scheme, corev1.EventSource{Component: "simkube-driver"})
}
