// Package server exposes keyword detection over HTTP. Clients stream audio
// over a websocket on /v1/listen and receive detections as JSON messages.
// The server also serves the detection journal, engine info, health probes
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hotword/internal/health"
	"github.com/MrWong99/hotword/internal/journal"
	"github.com/MrWong99/hotword/internal/observe"
	"github.com/MrWong99/hotword/pkg/wakeword"
)

// shutdownTimeout bounds how long open streams get to finish when the
// server stops.
const shutdownTimeout = 10 * time.Second

// Detection journal query bounds.
const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// Detector is one engine session serving a single stream.
type Detector interface {
	wakeword.Processor

	// ID identifies the session in logs, messages and the journal.
	ID() string

	// Labels lists the keyword labels in index order.
	Labels() []string

	// Close releases the engine session.
	Close() error
}

// EngineInfo describes the engine streams are served by.
type EngineInfo struct {
	Version     string   `json:"version"`
	SampleRate  int      `json:"sample_rate"`
	FrameLength int      `json:"frame_length"`
	Keywords    []string `json:"keywords"`
}

// SessionOpener creates detectors for incoming streams.
type SessionOpener interface {
	OpenSession(ctx context.Context, source string) (Detector, error)
	Info() EngineInfo
}

// Server routes HTTP requests to the streaming and query handlers.
type Server struct {
	opener      SessionOpener
	journal     journal.Store
	metrics     *observe.Metrics
	health      *health.Handler
	maxSessions int64
	sem         *semaphore.Weighted
	handler     http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithJournal records stream detections to s and serves them on
// /v1/detections.
func WithJournal(s journal.Store) Option {
	return func(srv *Server) { srv.journal = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithHealth sets the health handler serving /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMaxSessions bounds concurrent streams. Values <= 0 are ignored.
func WithMaxSessions(n int) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxSessions = int64(n)
		}
	}
}

// New returns a server creating detectors through opener.
func New(opener SessionOpener, opts ...Option) *Server {
	s := &Server{
		opener:      opener,
		maxSessions: 8,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	s.sem = semaphore.NewWeighted(s.maxSessions)

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.HandleFunc("GET /v1/detections", s.handleDetections)
	mux.HandleFunc("GET /v1/listen", s.handleListen)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then drains open
// streams for up to shutdownTimeout. When certFile is set the server speaks
// TLS.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, certFile, keyFile)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String(), "tls", certFile != "")
		if certFile != "" {
			errCh <- srv.ServeTLS(ln, certFile, keyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.health.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opener.Info())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "detection journal is not configured")
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit %q must be a positive integer", v))
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("journal query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
