// Package mcpconn manages the single shared session to a remote MCP tool
// server.
//
// Many concurrent request handlers need a live session whose bearer
// credential has a finite lifetime. The [Manager] owns that session: it
// establishes it lazily on first use, hands the same session to every caller
// while the credential is fresh, and transparently replaces it before the
// credential expires. Replacement is single-flight — exactly one caller
// performs the credential and transport round trips per refresh cycle, and
// every overlapping caller observes its result.
//
// Each replacement advances a monotonically increasing generation counter.
// Dependents that cache artefacts derived from a session (such as the
// remotely discovered tool list) subscribe via [Manager.Subscribe] or compare
// [Manager.Generation] to detect staleness.
//
// Typical usage:
//
//	mgr := mcpconn.New(mcpconn.Config{
//	    Dialer:      mcp.NewStreamableDialer(cfg.MCP.URL),
//	    Credentials: auth.ClientCredentials(occfg),
//	})
//	defer mgr.Close()
//
//	lease, err := mgr.Session(ctx)
//	if err != nil { ... }
//	result, err := lease.Conn.CallTool(ctx, params)
package mcpconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/toolgate/internal/auth"
	"github.com/MrWong99/toolgate/internal/mcp"
	"github.com/MrWong99/toolgate/internal/observe"
)

// DefaultRefreshBuffer is how long before credential expiry a session is
// treated as expiring and proactively replaced.
const DefaultRefreshBuffer = 5 * time.Minute

// ErrClosed is returned by all Manager operations after [Manager.Close].
var ErrClosed = errors.New("mcpconn: manager closed")

// ConnectError reports a failed session establishment. The manager is left
// with no session; a subsequent call retries from scratch, so the error is
// transient from the caller's point of view.
type ConnectError struct {
	// Stage is "credential" when token acquisition failed and "connect" when
	// the transport could not be established.
	Stage string

	// Err is the underlying failure.
	Err error
}

func (e *ConnectError) Error() string {
	return "mcpconn: " + e.Stage + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Lease is a caller's view of the current session: the connection handle and
// the generation it belongs to. The generation lets dependents tag cached
// artefacts derived through this connection.
type Lease struct {
	Conn       mcp.Conn
	Generation int64
}

// Config configures a [Manager].
type Config struct {
	// Dialer establishes new sessions. Required.
	Dialer mcp.Dialer

	// Credentials issues bearer tokens for new sessions.
	// Defaults to [auth.None] (unauthenticated, never-expiring).
	Credentials auth.Source

	// RefreshBuffer is how long before credential expiry the session is
	// proactively replaced. Defaults to [DefaultRefreshBuffer] if zero.
	RefreshBuffer time.Duration

	// Metrics receives session lifecycle measurements. May be nil.
	Metrics *observe.Metrics

	// now overrides the clock in tests.
	now func() time.Time
}

// current is the atomically published snapshot of the held session. A nil
// snapshot means "no session".
type current struct {
	conn       mcp.Conn
	expiresAt  time.Time // zero: never expires
	generation int64
}

// Manager is the session holder. All methods are safe for unbounded
// concurrent use.
//
// The replacement critical section is guarded by a one-slot channel rather
// than a mutex so that callers blocked behind an in-flight establishment can
// abandon their wait when their context is cancelled. Cancelling a wait never
// aborts the in-flight establishment itself; that completes or fails on its
// own and updates the manager either way.
type Manager struct {
	dialer  mcp.Dialer
	creds   auth.Source
	buffer  time.Duration
	metrics *observe.Metrics
	now     func() time.Time

	cur atomic.Pointer[current]
	gen atomic.Int64

	sem    chan struct{} // one-slot; guards replacement, reconnect, close
	closed bool          // guarded by sem

	subMu sync.Mutex
	subs  []func(generation int64)
}

// New creates a [Manager]. It performs no I/O; the first [Manager.Session]
// call establishes the session.
func New(cfg Config) *Manager {
	if cfg.Credentials == nil {
		cfg.Credentials = auth.None()
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Manager{
		dialer:  cfg.Dialer,
		creds:   cfg.Credentials,
		buffer:  cfg.RefreshBuffer,
		metrics: cfg.Metrics,
		now:     cfg.now,
		sem:     make(chan struct{}, 1),
	}
}

// Session returns a usable session, establishing or refreshing one if needed.
//
// The returned session's credential is never already expired, and best-effort
// not within the refresh buffer of expiring. On failure the manager holds no
// session and the error is a [*ConnectError]; the next call retries from
// scratch — a transient failure is never cached and never shared with callers
// that did not trigger the attempt.
func (m *Manager) Session(ctx context.Context) (Lease, error) {
	// Fast path: a fresh session is served without any serialisation.
	if s := m.cur.Load(); s != nil && !m.expiringSoon(s.expiresAt) {
		return Lease{Conn: s.conn, Generation: s.generation}, nil
	}

	if err := m.acquireSem(ctx); err != nil {
		return Lease{}, err
	}
	defer m.releaseSem()

	if m.closed {
		return Lease{}, ErrClosed
	}

	// Re-check: another caller may have replaced the session while we waited.
	if s := m.cur.Load(); s != nil && !m.expiringSoon(s.expiresAt) {
		return Lease{Conn: s.conn, Generation: s.generation}, nil
	}

	return m.replaceLocked(ctx)
}

// replaceLocked discards any held session and establishes a new one.
// Must be called with the semaphore held.
func (m *Manager) replaceLocked(ctx context.Context) (Lease, error) {
	m.discardLocked("refresh")

	start := m.now()

	cred, err := m.creds.Acquire(ctx)
	if err != nil {
		m.recordEstablish(ctx, "credential_error")
		return Lease{}, &ConnectError{Stage: "credential", Err: err}
	}

	conn, err := m.dialer.Dial(ctx, cred)
	if err != nil {
		m.recordEstablish(ctx, "connect_error")
		return Lease{}, &ConnectError{Stage: "connect", Err: err}
	}

	gen := m.gen.Add(1)
	m.cur.Store(&current{conn: conn, expiresAt: cred.ExpiresAt, generation: gen})

	if m.metrics != nil {
		m.metrics.SessionEstablishDuration.Record(ctx, m.now().Sub(start).Seconds())
	}
	m.recordEstablish(ctx, "ok")

	slog.Info("mcp session established",
		"generation", gen,
		"expires_at", cred.ExpiresAt,
	)

	m.notify(gen)
	return Lease{Conn: conn, Generation: gen}, nil
}

// ForceReconnect discards the current session, if any, and leaves the manager
// with no session so the next [Manager.Session] call starts clean.
//
// The generation always advances, even when nothing was held: callers use
// ForceReconnect to mark the start of a new epoch after observing a failure,
// and dependents must drop derived caches regardless of whether a connection
// existed at that moment.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	if err := m.acquireSem(ctx); err != nil {
		return err
	}
	defer m.releaseSem()

	if m.closed {
		return ErrClosed
	}

	m.discardLocked("force_reconnect")

	gen := m.gen.Add(1)
	slog.Info("mcp session invalidated", "generation", gen)
	if m.metrics != nil {
		m.metrics.RecordSessionReconnect(ctx)
	}
	m.notify(gen)
	return nil
}

// Generation returns the current generation. It never blocks and never goes
// backwards; dependents compare it against the generation recorded on their
// cached artefacts.
func (m *Manager) Generation() int64 {
	return m.gen.Load()
}

// Probe verifies that a usable session can be obtained, establishing one if
// none is held. It is the readiness-check entry point.
func (m *Manager) Probe(ctx context.Context) error {
	_, err := m.Session(ctx)
	return err
}

// Subscribe registers fn to be called after every session replacement —
// proactive refresh, forced reconnect, or first establishment — with the new
// generation. Subscribers run synchronously, in registration order, on the
// goroutine that performed the replacement, inside its critical section:
// fn must return promptly and must not call back into the Manager, or every
// future replacement stalls. Use it only to mark derived caches stale.
func (m *Manager) Subscribe(fn func(generation int64)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// Close tears the manager down: any held session is closed exactly once and
// every subsequent call fails with [ErrClosed]. Close waits for an in-flight
// establishment to publish before closing what it published. Idempotent.
func (m *Manager) Close() error {
	m.sem <- struct{}{}
	defer m.releaseSem()

	if m.closed {
		return nil
	}
	m.closed = true

	if s := m.cur.Swap(nil); s != nil {
		if err := s.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}

// discardLocked closes and clears the held session, if any. Close failures
// are logged, not surfaced: the session is being thrown away either way.
// Must be called with the semaphore held.
func (m *Manager) discardLocked(reason string) {
	s := m.cur.Swap(nil)
	if s == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		slog.Warn("error closing superseded mcp session",
			"generation", s.generation,
			"reason", reason,
			"err", err,
		)
	}
}

// expiringSoon reports whether a credential expiring at t is within the
// refresh buffer. A zero t never expires.
func (m *Manager) expiringSoon(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !m.now().Before(t.Add(-m.buffer))
}

// notify invokes subscribers in registration order. Runs inside the critical
// section; the ordering of generations seen by any subscriber matches the
// total order of replacements.
func (m *Manager) notify(generation int64) {
	m.subMu.Lock()
	subs := m.subs
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(generation)
	}
}

// acquireSem takes the one-slot semaphore, honouring ctx while waiting.
func (m *Manager) acquireSem(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) releaseSem() { <-m.sem }

func (m *Manager) recordEstablish(ctx context.Context, status string) {
	if m.metrics != nil {
		m.metrics.RecordSessionEstablish(ctx, status)
	}
}
