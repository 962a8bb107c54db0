package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// Server exposes the tracker over HTTP:
//
//	GET /health  - full status JSON (200 healthy, 503 unhealthy)
//	GET /ready   - readiness probe (200 after the first completed run)
//	GET /metrics - Prometheus text exposition
type Server struct {
	mu      sync.Mutex
	log     logx.Logger
	tracker *Tracker
	srv     *http.Server
	ln      net.Listener
	addr    string
}

func NewServer(port int, tracker *Tracker, log logx.Logger) *Server {
	return &Server{
		log:     log.With(logx.String("comp", "health")),
		tracker: tracker,
		addr:    net.JoinHostPort("0.0.0.0", strconv.Itoa(port)),
	}
}

// Start binds the listener and begins serving. A bind failure is returned
// to the caller; the service treats it as fatal.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleNotFound)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.addr, err)
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()

	s.log.Info("health check server started", logx.String("addr", s.addr))
	s.log.Info("health endpoints available",
		logx.String("health", "/health"),
		logx.String("ready", "/ready"),
		logx.String("metrics", "/metrics"),
	)
	return nil
}

// Stop gracefully shuts the server down. In-flight requests get until ctx
// expires to finish.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("health shutdown error", logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("health check server stopped")
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.tracker.Snapshot()
	code := http.StatusOK
	if snap.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)

	if code != http.StatusOK {
		s.log.Info("health check", logx.String("path", r.URL.Path), logx.Int("code", code))
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := s.tracker.Ready()
	code := http.StatusOK
	msg := "Service is ready"
	if !ready {
		code = http.StatusServiceUnavailable
		msg = "Service is starting up"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":   ready,
		"message": msg,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.tracker.Snapshot()
	up := 0
	if snap.Status == "healthy" {
		up = 1
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP price_alert_up Service up status\n")
	fmt.Fprintf(w, "# TYPE price_alert_up gauge\n")
	fmt.Fprintf(w, "price_alert_up %d\n", up)
	fmt.Fprintf(w, "# HELP price_alert_uptime_seconds Service uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE price_alert_uptime_seconds counter\n")
	fmt.Fprintf(w, "price_alert_uptime_seconds %d\n", snap.UptimeSeconds)
	fmt.Fprintf(w, "# HELP price_alert_total_runs Total number of scraper runs\n")
	fmt.Fprintf(w, "# TYPE price_alert_total_runs counter\n")
	fmt.Fprintf(w, "price_alert_total_runs %d\n", snap.Statistics.TotalRuns)
	fmt.Fprintf(w, "# HELP price_alert_successful_runs Total successful scraper runs\n")
	fmt.Fprintf(w, "# TYPE price_alert_successful_runs counter\n")
	fmt.Fprintf(w, "price_alert_successful_runs %d\n", snap.Statistics.SuccessfulRuns)
	fmt.Fprintf(w, "# HELP price_alert_failed_runs Total failed scraper runs\n")
	fmt.Fprintf(w, "# TYPE price_alert_failed_runs counter\n")
	fmt.Fprintf(w, "price_alert_failed_runs %d\n", snap.Statistics.FailedRuns)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("health server 404", logx.String("path", r.URL.Path))
	http.Error(w, "Not Found", http.StatusNotFound)
}
