package httpserver

import (
	"context"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer exposes the process's metric set in Prometheus text
// format on a dedicated listener, kept off the public API port.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer prepares a metrics listener on addr. The server is
// inert until ListenAndServe is called.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe blocks serving metric scrapes until shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
