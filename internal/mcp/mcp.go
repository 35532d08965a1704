// Package mcp defines the shared types for toolgate's connection to a remote
// MCP (Model Context Protocol) tool server.
//
// The session lifecycle manager lives in the mcpconn subpackage; the
// generation-checked tool catalogue lives in toolcache. This package holds
// only the seams between them: the [Conn] handle they exchange and the
// [Dialer] capability that establishes new connections.
package mcp

import (
	"context"
	"iter"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolgate/internal/auth"
)

// Conn is an established, usable session to a remote MCP server. It is the
// subset of [mcpsdk.ClientSession] that toolgate exercises, abstracted so
// tests can substitute fakes.
//
// A Conn is exclusively owned by the session manager while current. Once
// superseded it is closed exactly once and never reused; callers holding a
// Conn across a blocking call may observe it become stale afterwards and
// should recover via the manager rather than re-validating mid-call.
type Conn interface {
	// Tools iterates over the tools the server advertises.
	Tools(ctx context.Context, params *mcpsdk.ListToolsParams) iter.Seq2[*mcpsdk.Tool, error]

	// CallTool invokes a named tool on the server.
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)

	// Close tears the session down. Safe to call once.
	Close() error
}

// Compile-time check: the SDK session must satisfy Conn.
var _ Conn = (*mcpsdk.ClientSession)(nil)

// Dialer establishes new sessions to a fixed remote endpoint using the given
// credential. Implementations must be safe for concurrent use; the session
// manager serialises calls itself but health probes may race a teardown.
type Dialer interface {
	Dial(ctx context.Context, cred auth.Credential) (Conn, error)
}
