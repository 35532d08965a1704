package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// okChecker returns a checker that always passes.
func okChecker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

// failChecker returns a checker that always fails with msg.
func failChecker(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

// probe serves a single GET through the handler's registered mux and decodes
// the JSON body.
func probe(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()

	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var rep report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthzIgnoresFailingCheckers(t *testing.T) {
	t.Parallel()

	h := New(failChecker("mcp_session", "session lost"))
	code, rep := probe(t, h, "/healthz")

	if code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", code, http.StatusOK)
	}
	if rep.Status != "ok" {
		t.Errorf("healthz body status = %q, want ok", rep.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all healthy",
			checkers:   []Checker{okChecker("mcp_session"), okChecker("store")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"mcp_session": "ok", "store": "ok"},
		},
		{
			name:       "one dependency down",
			checkers:   []Checker{okChecker("store"), failChecker("mcp_session", "dial tcp: refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "ok", "mcp_session": "fail: dial tcp: refused"},
		},
		{
			name:       "every dependency down",
			checkers:   []Checker{failChecker("mcp_session", "closed"), failChecker("store", "locked")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"mcp_session": "fail: closed", "store": "fail: locked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rep := probe(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if rep.Status != tt.wantStatus {
				t.Errorf("body status = %q, want %q", rep.Status, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", rep.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyzRunsCheckersConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other to start. Sequential execution would
	// deadlock until the rendezvous timeout and fail the probe.
	sessionStarted := make(chan struct{})
	storeStarted := make(chan struct{})

	rendezvous := func(announce chan<- struct{}, await <-chan struct{}) error {
		close(announce)
		select {
		case <-await:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("peer checker never started")
		}
	}

	h := New(
		Checker{Name: "mcp_session", Check: func(context.Context) error {
			return rendezvous(sessionStarted, storeStarted)
		}},
		Checker{Name: "store", Check: func(context.Context) error {
			return rendezvous(storeStarted, sessionStarted)
		}},
	)

	code, rep := probe(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (checks: %v)", code, http.StatusOK, rep.Checks)
	}
}

func TestReadyzChecksRespectTimeout(t *testing.T) {
	t.Parallel()

	var sawDeadline bool
	h := New(Checker{Name: "store", Check: func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}})

	if code, _ := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if !sawDeadline {
		t.Error("checker context carries no deadline")
	}
}

func TestReadyzContentType(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(okChecker("mcp_session")).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
}
