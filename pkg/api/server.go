package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/resource"
	"github.com/mailsift/mailsift/pkg/store"
)

// Server is the operational HTTP surface of one launch: Prometheus
// metrics, health probes and a JSON fleet view read out of the shared
// store. It carries no pipeline state of its own.
type Server struct {
	addr    string
	store   *store.Store
	monitor *resource.Monitor

	httpSrv  *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates an ops server bound to addr once started.
func NewServer(addr string, st *store.Store) *Server {
	return &Server{
		addr:   addr,
		store:  st,
		logger: log.WithComponent("api"),
	}
}

// WithMonitor includes the resource monitor's last snapshot in the
// status view.
func (s *Server) WithMonitor(m *resource.Monitor) *Server {
	s.monitor = m
	return s
}

// Start binds the address and serves in the background. The bind error
// is returned synchronously so a taken port fails the launch instead
// of hiding in a goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/status", s.handleStatus)

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = lis
	s.httpSrv = &http.Server{
		Handler:           s.logged(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Ops server listening")
	go func() {
		if serr := s.httpSrv.Serve(lis); serr != nil && serr != http.ErrServerClosed {
			s.logger.Error().Err(serr).Msg("Ops server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status, err := GatherStatus(s.store)
	if err != nil {
		s.logger.Error().Err(err).Msg("Status gather failed")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	resp := statusResponse{Status: status}
	if s.monitor != nil {
		snap := s.monitor.Last()
		resp.Resources = &snap
		resp.Throttled = s.monitor.Throttled()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type statusResponse struct {
	*Status
	Resources *resource.Snapshot `json:"resources,omitempty"`
	Throttled bool               `json:"throttled"`
}

// logged wraps the mux with request logging at debug level; the probe
// endpoints get hit every few seconds and would drown info logs.
func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}
