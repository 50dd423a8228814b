package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"netguard/internal/client"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CreateCustomRegistry builds a registry with runtime, process and build
// info collectors plus the pipeline metrics.
func CreateCustomRegistry(metrics *client.PrometheusMetrics) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(versioncollector.NewCollector("netguard"))

	for _, c := range metrics.Collectors() {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return registry, nil
}

// MetricsHandler serves registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// PrometheusExporter serves /metrics and /health on a dedicated port.
type PrometheusExporter struct {
	server *http.Server
	logger *logrus.Logger
	port   string
}

func NewPrometheusExporter(port string, registry *prometheus.Registry, logger *logrus.Logger) *PrometheusExporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`
			<h1>netguard exporter</h1>
			<p><a href="/metrics">Metrics</a></p>
			<p><a href="/health">Health Check</a></p>
		`))
	})

	return &PrometheusExporter{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		port:   port,
	}
}

// Start serves until ctx is cancelled, then shuts the server down.
func (e *PrometheusExporter) Start(ctx context.Context) error {
	e.logger.Infof("Starting Prometheus exporter on port %s", e.port)
	e.logger.Infof("Metrics available at: http://localhost:%s/metrics", e.port)

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("prometheus exporter failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.logger.Info("Shutting down Prometheus exporter...")
	return e.server.Shutdown(shutdownCtx)
}
