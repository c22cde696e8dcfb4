// Package health serves the copilot's liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every registered [Checker] concurrently and answers 200 only when all
// of them pass; a failing dependency (model backend down, no tools loaded)
// flips the response to 503 so a load balancer stops routing chat traffic
// while the process stays up.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one /readyz evaluation end to end.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve and must respect context cancellation.
type Checker struct {
	// Name keys the check's entry in the readiness report.
	Name string

	Check func(ctx context.Context) error
}

// CheckResult is one dependency's entry in the readiness report.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness: a process that reached this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz runs every checker concurrently under one [checkTimeout] deadline
// and reports per-dependency results. Any failure yields 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(h.checkers))

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := CheckResult{Status: "ok"}
			if err := c.Check(ctx); err != nil {
				res = CheckResult{Status: "fail", Error: err.Error()}
			}
			mu.Lock()
			checks[c.Name] = res
			mu.Unlock()
			// Failures are reported per check, not through the group: one
			// bad dependency must not cancel the probes still running.
			return nil
		})
	}
	g.Wait()

	report := Report{Status: "ok", Checks: checks}
	status := http.StatusOK
	for _, res := range checks {
		if res.Status != "ok" {
			report.Status = "unavailable"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
