// Package health exposes liveness/readiness HTTP endpoints for the
// advisor process.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checkable is implemented by the one thing whose health actually gates
// readiness here: the database port. A round driver that cannot reach its
// port should fail readiness so an orchestrator stops routing rounds to it.
type Checkable interface {
	IsHealthy(ctx context.Context) bool
}

// Status is the JSON body served by the readiness and detailed endpoints.
type Status struct {
	Healthy       bool      `json:"healthy"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	Uptime        float64   `json:"uptime_seconds"`
	PortHealthy   bool      `json:"port_healthy"`
	LastRound     int       `json:"last_round"`
	MemoryUsageMB float64   `json:"memory_usage_mb"`
	Goroutines    int       `json:"goroutines"`
}

// Server answers /healthz (liveness) and /readyz (readiness, gated on the
// database port only; the last completed round is reported, not checked).
type Server struct {
	logger    *zap.Logger
	version   string
	startTime time.Time
	port      Checkable
	checkTTL  time.Duration

	mu        sync.RWMutex
	lastRound int
	cached    *Status
	cachedAt  time.Time
}

// NewServer wires a health server around the database port used by the
// round driver.
func NewServer(logger *zap.Logger, version string, port Checkable) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		version:   version,
		startTime: time.Now(),
		port:      port,
		checkTTL:  5 * time.Second,
	}
}

// RecordRound lets the round driver report progress; the value appears as
// last_round in the readiness body and does not affect Healthy.
func (s *Server) RecordRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRound = round
}

func (s *Server) status(ctx context.Context) Status {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.cachedAt) < s.checkTTL {
		cached := *s.cached
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	portHealthy := s.port == nil || s.port.IsHealthy(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Healthy:       portHealthy,
		Timestamp:     time.Now(),
		Version:       s.version,
		Uptime:        time.Since(s.startTime).Seconds(),
		PortHealthy:   portHealthy,
		LastRound:     s.lastRound,
		MemoryUsageMB: float64(mem.Alloc) / (1024 * 1024),
		Goroutines:    runtime.NumGoroutine(),
	}
	s.cached = &st
	s.cachedAt = time.Now()
	return st
}

// LivenessHandler always returns 200 while the process is running.
func (s *Server) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns 503 when the database port is unreachable.
func (s *Server) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.status(r.Context())
		code := http.StatusOK
		if !st.Healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(st)
	}
}

// Mux returns an http.ServeMux wired with /healthz and /readyz.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.LivenessHandler())
	mux.HandleFunc("/readyz", s.ReadinessHandler())
	return mux
}

// ListenAndServe starts the health HTTP server and blocks until ctx is
// done or the server errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
