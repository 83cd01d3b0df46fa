// Package health serves the liveness and readiness probes of the detection
// server.
//
// /healthz always answers 200 while the process can serve HTTP. /readyz
// runs the registered checks concurrently and answers 200 unless a required
// check fails or the server is draining. A failing optional check (the
// detection journal, say) reports "degraded" but keeps the server ready,
// because detection itself does not depend on it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Overall readiness states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// Checker is a named dependency probe.
type Checker struct {
	// Name keys the check in the report, e.g. "engine" or "journal".
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error

	// Optional checks degrade readiness instead of failing it.
	Optional bool
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	OK       bool    `json:"ok"`
	Error    string  `json:"error,omitempty"`
	Optional bool    `json:"optional,omitempty"`
	Millis   float64 `json:"ms"`
}

// Report is the /readyz response body.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Ready reports whether the status lets traffic through.
func (r Report) Ready() bool {
	return r.Status == StatusOK || r.Status == StatusDegraded
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler evaluating checkers on every readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining makes /readyz fail without running checks, so load balancers
// stop routing new streams during shutdown.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Check runs every checker concurrently, each with its own timeout derived
// from ctx.
func (h *Handler) Check(ctx context.Context) Report {
	if h.draining.Load() {
		return Report{Status: StatusDraining}
	}

	var (
		mu  sync.Mutex
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
		g   errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			start := time.Now()
			err := c.Check(cctx)
			cancel()

			res := CheckResult{
				OK:       err == nil,
				Optional: c.Optional,
				Millis:   float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			switch {
			case res.OK:
			case !c.Optional:
				rep.Status = StatusFail
			case rep.Status == StatusOK:
				rep.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Register adds both probes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
