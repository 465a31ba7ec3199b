package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus metrics of a batch together with liveness
// and readiness probes. Readiness is off until SetReady(true), which the
// orchestrator calls once preflight checks pass.
type Server struct {
	addr   string
	ln     net.Listener
	srv    *http.Server
	logger *slog.Logger
	ready  atomic.Bool
}

// NewServer creates a metrics server for the metrics gathered from g.
func NewServer(addr string, g prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{addr: addr, logger: logger}

	live := func() bool { return true }
	routes := map[string]http.Handler{
		"/metrics": promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)}),
		"/health":  probe(live),
		"/healthz": probe(live),
		"/ready":   probe(s.ready.Load),
		"/readyz":  probe(s.ready.Load),
	}
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, h)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return s
}

// probe answers 200 "ok" while ok reports true and 503 otherwise.
func probe(ok func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !ok() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "not ready")
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

// SetReady flips the readiness probes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the address synchronously, so a port already in use fails the
// run up front, then serves in the background until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("metrics_server_listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.srv.Shutdown(ctx)
}

// Addr returns the listen address, resolved once started.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}
