// Package toolcache caches the tool catalogue discovered from the remote MCP
// server and routes tool calls through the shared session.
//
// The cached list is tagged with the session generation it was built from.
// When the session manager replaces the session — proactive refresh or forced
// reconnect — the cache is invalidated and the next read re-discovers the
// tools over the new session.
package toolcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolgate/internal/mcp/mcpconn"
	"github.com/MrWong99/toolgate/internal/observe"
	"github.com/MrWong99/toolgate/pkg/llm"
)

// noGeneration marks an empty cache; real generations start at 1.
const noGeneration = -1

// SessionSource is the slice of the session manager the catalogue consumes.
// Satisfied by [mcpconn.Manager].
type SessionSource interface {
	Session(ctx context.Context) (mcpconn.Lease, error)
	ForceReconnect(ctx context.Context) error
	Generation() int64
	Subscribe(fn func(generation int64))
}

// Result holds the outcome of a single tool call.
type Result struct {
	// Content is the tool's textual output, typically JSON or human-readable
	// text ready for insertion into an LLM context window.
	Content string

	// IsError indicates an application-level error reported by the tool, as
	// opposed to a transport failure returned via the Go error value.
	IsError bool

	// Duration is the wall-clock time of the call.
	Duration time.Duration
}

// Catalog is a generation-checked cache of the remote tool list.
// All methods are safe for concurrent use.
type Catalog struct {
	sessions SessionSource
	metrics  *observe.Metrics

	mu         sync.RWMutex
	tools      []llm.ToolDefinition
	generation int64 // generation the cache was built from
}

// New creates a Catalog bound to the given session source and registers for
// invalidation. metrics may be nil.
func New(sessions SessionSource, metrics *observe.Metrics) *Catalog {
	c := &Catalog{
		sessions:   sessions,
		metrics:    metrics,
		generation: noGeneration,
	}
	// Runs inside the manager's replacement path: only mark the cache stale,
	// never recompute here.
	sessions.Subscribe(func(int64) { c.invalidate() })
	return c
}

// invalidate drops the cached tool list.
func (c *Catalog) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
	c.generation = noGeneration
}

// Tools returns the tool definitions advertised by the remote server,
// re-discovering them when the cache is stale. The returned slice is shared;
// callers must not mutate it.
func (c *Catalog) Tools(ctx context.Context) ([]llm.ToolDefinition, error) {
	c.mu.RLock()
	tools, cachedGen := c.tools, c.generation
	c.mu.RUnlock()

	// The subscription covers replacements after New; the generation compare
	// also catches a cache built from a lease that was superseded mid-listing.
	if cachedGen != noGeneration && cachedGen == c.sessions.Generation() {
		return tools, nil
	}

	lease, err := c.sessions.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("toolcache: list tools: %w", err)
	}

	var discovered []llm.ToolDefinition
	for tool, err := range lease.Conn.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("toolcache: list tools: %w", err)
		}
		discovered = append(discovered, toolDefinition(tool))
	}

	c.mu.Lock()
	c.tools = discovered
	c.generation = lease.Generation
	c.mu.Unlock()

	slog.Debug("tool catalogue refreshed",
		"tools", len(discovered),
		"generation", lease.Generation,
	)
	return discovered, nil
}

// Call invokes the named tool with JSON-encoded args over the current
// session.
//
// A transport failure usually means the session went stale underneath us
// (the server restarted, or the token was revoked before its expiry). Call
// recovers once: it forces a reconnect and repeats the invocation over the
// fresh session, then surfaces whatever that attempt produces.
//
// A JSON-RPC error response is not a transport failure — the request reached
// the server and was rejected there (unknown tool name, malformed arguments).
// The session is healthy and a fresh one would get the same answer, so such
// errors are surfaced without touching the session.
func (c *Catalog) Call(ctx context.Context, name, args string) (*Result, error) {
	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("toolcache: invalid args JSON for tool %q: %w", name, err)
		}
	}

	result, err := c.callOnce(ctx, name, argsMap)
	if err == nil {
		c.recordCall(ctx, name, result.IsError)
		return result, nil
	}

	if !transportFailure(err) {
		c.recordCall(ctx, name, true)
		return nil, err
	}

	slog.Warn("tool call transport failure, forcing reconnect and retrying once",
		"tool", name,
		"err", err,
	)
	if rcErr := c.sessions.ForceReconnect(ctx); rcErr != nil {
		c.recordCall(ctx, name, true)
		return nil, fmt.Errorf("toolcache: reconnect after failed call to %q: %w", name, rcErr)
	}

	result, err = c.callOnce(ctx, name, argsMap)
	if err != nil {
		c.recordCall(ctx, name, true)
		return nil, err
	}
	c.recordCall(ctx, name, result.IsError)
	return result, nil
}

// transportFailure reports whether err warrants discarding the session and
// retrying over a fresh one. Server-side JSON-RPC rejections and the caller
// giving up do not qualify.
func transportFailure(err error) bool {
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// callOnce performs a single invocation over the current session.
func (c *Catalog) callOnce(ctx context.Context, name string, argsMap map[string]any) (*Result, error) {
	lease, err := c.sessions.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("toolcache: call %q: %w", name, err)
	}

	start := time.Now()
	callResult, err := lease.Conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("toolcache: call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range callResult.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &Result{
		Content:  sb.String(),
		IsError:  callResult.IsError,
		Duration: time.Since(start),
	}, nil
}

func (c *Catalog) recordCall(ctx context.Context, name string, failed bool) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	c.metrics.RecordToolCall(ctx, name, status)
}

// toolDefinition converts an SDK tool into the definition offered to the LLM.
func toolDefinition(t *mcpsdk.Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
}

// schemaToMap converts any schema value to a map[string]any via a JSON
// round trip, falling back to a bare object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
