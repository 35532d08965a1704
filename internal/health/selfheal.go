package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// probeTimeout bounds a single self-heal probe.
const probeTimeout = 10 * time.Second

// SessionProber is the slice of the MCP session manager the health package
// needs: probing the shared session and forcing a replacement when the probe
// fails.
type SessionProber interface {
	Probe(ctx context.Context) error
	ForceReconnect(ctx context.Context) error
}

// SessionChecker returns a readiness [Checker] that probes the shared MCP
// session. A failing probe marks the service not ready but does not attempt
// recovery; recovery is the [SelfHealer]'s job.
func SessionChecker(p SessionProber) Checker {
	return Checker{
		Name: "mcp_session",
		Check: func(ctx context.Context) error {
			return p.Probe(ctx)
		},
	}
}

// SelfHealer periodically probes the shared MCP session and forces a
// reconnect when the probe fails. Probe and reconnect errors are logged, not
// surfaced; the next chat request re-establishes the session on demand either
// way.
type SelfHealer struct {
	prober SessionProber
	sched  *cron.Cron
}

// NewSelfHealer creates a self-healer that runs on the given cron schedule
// (e.g. "@every 1m"). Returns an error if the schedule expression is invalid.
func NewSelfHealer(p SessionProber, schedule string) (*SelfHealer, error) {
	s := &SelfHealer{
		prober: p,
		sched:  cron.New(),
	}
	if _, err := s.sched.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("health: self-heal schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the periodic probing in a background goroutine.
func (s *SelfHealer) Start() {
	s.sched.Start()
}

// Stop halts the schedule and waits for a running probe to finish.
func (s *SelfHealer) Stop() {
	<-s.sched.Stop().Done()
}

// run executes a single probe cycle.
func (s *SelfHealer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	err := s.prober.Probe(ctx)
	if err == nil {
		return
	}
	slog.Warn("self-heal: session probe failed, forcing reconnect", "err", err)

	if rerr := s.prober.ForceReconnect(ctx); rerr != nil {
		slog.Warn("self-heal: forced reconnect failed", "err", rerr)
	}
}
