// Command tracer runs the recording side of SimKube: it watches every
// configured GVK plus pods, feeds a single in-memory trace store, and
// serves that store over HTTP so a caller can export a window of it as a
// MessagePack trace file (spec.md §6).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/yaml"

	"github.com/acrlabs/simkube/pkg/discovery"
	"github.com/acrlabs/simkube/pkg/export"
	"github.com/acrlabs/simkube/pkg/owners"
	"github.com/acrlabs/simkube/pkg/store"
	"github.com/acrlabs/simkube/pkg/watch"
)

type options struct {
	configPath  string
	metricsAddr string
	exportAddr  string
	debugPort   int
}

func main() {
	opts := options{}
	pflag.StringVar(&opts.configPath, "config", "/etc/simkube/tracer-config.yaml", "path to the tracer's TracerConfig file")
	pflag.StringVar(&opts.metricsAddr, "metrics-addr", ":8080", "address the Prometheus metrics endpoint binds to")
	pflag.StringVar(&opts.exportAddr, "export-addr", ":8888", "address the trace export endpoint binds to")
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

	if err := run(opts, log); err != nil {
		log.Error(err, "tracer exited with error")
		os.Exit(1)
	}
}

func run(opts options, log logr.Logger) error {
	raw, err := os.ReadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("tracer: reading config %s: %w", opts.configPath, err)
	}
	var cfg store.TracerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("tracer: parsing config: %w", err)
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("tracer: loading kubeconfig: %w", err)
	}

	disco, err := discovery.New(restCfg)
	if err != nil {
		return fmt.Errorf("tracer: building discovery cache: %w", err)
	}

	ownersCache, err := owners.New(&owners.DynamicResolver{Discovery: disco})
	if err != nil {
		return fmt.Errorf("tracer: building owners cache: %w", err)
	}

	s := store.NewStore(cfg)

	watchers := make([]watch.Watcher, 0, len(cfg)+1)
	for g := range cfg {
		watchers = append(watchers, watch.NewDynObjWatcher(g, disco, s, nil))
	}
	watchers = append(watchers, watch.NewPodWatcher(disco, ownersCache, s, nil))

	manager := watch.NewTraceManager(watchers...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sink := export.NewMemorySink()
	httpSrv := &http.Server{Addr: opts.exportAddr, Handler: exportHandler(log, s, sink)}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()
	go func() {
		log.Info("export server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "export server exited")
		}
	}()

	log.Info("tracer starting", "trackedGVKs", len(cfg))
	return manager.Run(ctx)
}

// exportRequest is the body of a POST /export call: the time window,
// filter, and destination to write the resulting trace to (spec.md §6:
// `{start_ts, end_ts, export_path, filters}`).
type exportRequest struct {
	StartTs    int64         `json:"start_ts"`
	EndTs      int64         `json:"end_ts"`
	ExportPath string        `json:"export_path,omitempty"`
	Filters    export.Filter `json:"filters"`
}

// exportHandler implements spec.md §6's export HTTP endpoint contract: 200
// with a MessagePack body when export_path is empty or names a local/memory
// destination, 200 with an empty body for a remote object-store scheme once
// the trace has been Put to sink under export_path (sink is the in-process
// MemorySink for every scheme), 400 for a malformed request, an unrecognized
// scheme or a malformed label selector, 502 when sink.Put fails, and 500 for
// any other export failure.
func exportHandler(log logr.Logger, s *store.Store, sink export.Sink) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
			return
		}

		scheme, err := export.ParseScheme(req.ExportPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := export.Export(s, req.StartTs, req.EndTs, req.Filters)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, export.ErrMalformedLabelSelector) {
				status = http.StatusBadRequest
			}
			http.Error(w, fmt.Sprintf("exporting trace: %v", err), status)
			return
		}

		if req.ExportPath != "" {
			if err := sink.Put(r.Context(), req.ExportPath, data); err != nil {
				log.Error(err, "persisting export to sink", "path", req.ExportPath)
				http.Error(w, fmt.Sprintf("writing export: %v", err), http.StatusBadGateway)
				return
			}
		}

		if req.ExportPath != "" && !export.IsLocalScheme(scheme) {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.Header().Set("Content-Type", "application/x-msgpack")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
	return mux
}
