package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns a JSON-serializable snapshot of the service state.
type StatusFunc func(ctx context.Context) (any, error)

// Server serves Prometheus metrics, liveness and node status over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a new metrics HTTP server.
// The server exposes metrics at /metrics and liveness at /health on the given
// address (e.g., ":9090"). When status is non-nil, /status serves its result as JSON.
func NewServer(addr string, gatherer prometheus.Gatherer, status StatusFunc) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck // best-effort health response
	})
	if status != nil {
		mux.HandleFunc("/status", statusHandler(status))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func statusHandler(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort status response
	}
}

// Start begins serving metrics. This is non-blocking.
// Returns a channel that receives an error if the server fails.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the metrics server, waiting for active connections
// to complete or until the context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
