// Package metrics exposes the Prometheus registry of the batch engine.
// All metrics are defined in their respective packages (ratelimit, retry,
// batch, client, cache, progress) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics endpoint and reference for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by the /metrics handler.
var Gatherer = prometheus.DefaultGatherer

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

// Handler returns the mux served by Serve: /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Server is a running metrics endpoint.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	done   chan error
	logger zerolog.Logger
}

// Serve starts the metrics endpoint on addr in the background. It stops when
// ctx is done or Shutdown is called.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		done:   make(chan error, 1),
		logger: logger.With().Str("component", "metrics").Logger(),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.logger.Info().
		Str("addr", s.Addr()).
		Msg("Metrics server started")

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully. It is safe to call more than once.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		return
	}
	s.logger.Info().Msg("Metrics server stopped")
}

// Wait blocks until the server has stopped and returns its serve error.
func (s *Server) Wait() error {
	return <-s.done
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - intel_ratelimit_grants_total (Counter): Call slots granted
//   - intel_ratelimit_wait_seconds (Histogram): Time callers waited for a slot
//
// Retry Metrics (pkg/retry):
//   - intel_call_attempts_total{result} (Counter): Attempts by result (success, failure)
//   - intel_retries_total (Counter): Retries scheduled after a failed attempt
//   - intel_retry_backoff_seconds (Histogram): Backoff before a retry
//   - intel_retries_exhausted_total (Counter): Items that failed after every attempt
//
// Batch Metrics (pkg/batch):
//   - intel_items_total{outcome} (Counter): Items by outcome (success, failure, cancelled)
//   - intel_batches_total (Counter): Batches processed
//   - intel_batch_duration_seconds (Histogram): Wall-clock time per batch
//   - intel_batches_in_flight (Gauge): Batches currently running
//
// Request Metrics (pkg/client):
//   - intel_requests_total{status} (Counter): Requests by HTTP status
//   - intel_request_duration_seconds (Histogram): Request duration
//   - intel_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Cache Metrics (pkg/cache):
//   - intel_cache_hits_total (Counter): Records served from cache
//   - intel_cache_misses_total (Counter): Cache misses
//   - intel_cache_errors_total{operation} (Counter): Cache operation errors
//
// Progress Metrics (pkg/progress):
//   - intel_progress_writes_total{kind} (Counter): Snapshot, final and mirror writes
//
// Example Prometheus Queries:
//
//   # Item failure rate
//   sum(rate(intel_items_total{outcome="failure"}[5m])) / sum(rate(intel_items_total[5m]))
//
//   # Average rate limiter wait
//   rate(intel_ratelimit_wait_seconds_sum[5m]) / rate(intel_ratelimit_wait_seconds_count[5m])
//
//   # Retry amplification
//   rate(intel_call_attempts_total[5m]) / rate(intel_items_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(intel_request_duration_seconds_bucket[5m]))
