package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cellfit/internal/adapters/fits"
	"cellfit/internal/core"
)

const shutdownTimeout = 10 * time.Second

// listening is called with the bound address once the server accepts
// connections.
var listening = func(net.Addr) {}

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fit API, Prometheus metrics and health checks.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				g.cfg.HTTP.Addr = addr
			}
			return serve(cmd, g)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func serve(cmd *cobra.Command, g *globals) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	metrics := core.MultiRecorder{prom, core.NewExpvarMetricsRecorder("")}

	a, err := g.open(cmd, core.WithMetricsRecorder(metrics))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	worker := fits.NewWorker(a.service, a.blobs,
		fits.WithQueueSize(g.cfg.Worker.QueueSize),
		fits.WithRetention(g.cfg.Worker.Retention),
		fits.WithAudit(workerAudit{g: g}))
	worker.Start()

	api := fits.NewHandler(a.service)
	api.Ingests = worker

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", g.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.cfg.HTTP.Addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	g.logger.Info("serving", "addr", ln.Addr().String(), "blob", a.blobs.Driver(), "store", g.cfg.Store.Driver)
	listening(ln.Addr())

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = worker.Stop(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return worker.Stop(shutdownCtx)
}

// workerAudit logs ingest job transitions.
type workerAudit struct {
	g *globals
}

func (a workerAudit) Record(ctx context.Context, e fits.AuditEntry) {
	attrs := []any{"job", e.JobID, "key", e.Key, "status", e.Status}
	for k, v := range e.Metadata {
		attrs = append(attrs, k, v)
	}
	a.g.logger.InfoContext(ctx, e.Action, attrs...)
}
