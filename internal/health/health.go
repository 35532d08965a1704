// Package health exposes the gateway's Kubernetes-style probe endpoints and
// the self-healing loop for the shared MCP session.
//
// GET /healthz answers 200 as long as the process can serve HTTP. GET /readyz
// runs every registered [Checker] concurrently and answers 200 only when all
// of them pass; a failing dependency (the MCP session, the tool server's
// store) turns the response into a 503 with a per-check breakdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency for the readiness endpoint. Check returns nil
// when the dependency is usable and honors ctx cancellation.
type Checker struct {
	// Name keys the check's verdict in the readiness response,
	// e.g. "mcp_session" or "store".
	Name  string
	Check func(ctx context.Context) error
}

// report is the wire shape of both probe responses.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe. Reaching this handler at all is the signal;
// it never consults the checkers.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe. All checkers run concurrently, each under
// its own checkTimeout, and one failure is enough for a 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := h.runChecks(r.Context())

	rep := report{Status: "ok", Checks: verdicts}
	status := http.StatusOK
	for _, v := range verdicts {
		if v != "ok" {
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeReport(w, status, rep)
}

// runChecks executes every checker in parallel and returns the per-check
// verdicts: "ok" or "fail: <error>".
func (h *Handler) runChecks(ctx context.Context) map[string]string {
	results := make([]string, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			if err := c.Check(cctx); err != nil {
				results[i] = "fail: " + err.Error()
			} else {
				results[i] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		verdicts[c.Name] = results[i]
	}
	return verdicts
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rep)
}
