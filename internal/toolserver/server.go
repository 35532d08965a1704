package toolserver

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolgate/internal/observe"
)

// ListTablesInput is the (empty) input of the list_tables tool.
type ListTablesInput struct{}

// ListTablesOutput is the structured output of the list_tables tool.
type ListTablesOutput struct {
	Tables []string `json:"tables"`
}

// DescribeTableInput selects the table to describe.
type DescribeTableInput struct {
	Table string `json:"table" jsonschema:"name of the table to describe"`
}

// DescribeTableOutput is the structured output of the describe_table tool.
type DescribeTableOutput struct {
	Columns []Column `json:"columns"`
}

// RunQueryInput carries the statement for the run_query tool.
type RunQueryInput struct {
	SQL string `json:"sql" jsonschema:"read-only SQL statement; must start with SELECT, WITH, or EXPLAIN"`

	// Limit caps the returned rows. Zero applies the server default.
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of rows to return"`
}

// Server wraps an MCP server exposing the query tools over a [Store].
type Server struct {
	store   Store
	metrics *observe.Metrics
	mcp     *mcpsdk.Server
}

// NewServer creates the MCP server and registers the three query tools.
// metrics may be nil.
func NewServer(store Store, version string, metrics *observe.Metrics) *Server {
	s := &Server{
		store:   store,
		metrics: metrics,
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "toolgate-tools",
			Version: version,
		}, nil),
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_tables",
		Description: "List the tables available for querying.",
	}, s.listTables)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "describe_table",
		Description: "Describe the columns of a table.",
	}, s.describeTable)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "run_query",
		Description: "Run a read-only SQL query (SELECT, WITH, or EXPLAIN) and return the rows.",
	}, s.runQuery)

	return s
}

// MCP exposes the underlying SDK server for transports and tests.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// RunStdio serves MCP over stdin/stdout until ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a streamable-HTTP handler for mounting under a mux,
// typically at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
}

// RequireBearer wraps next with a static Bearer token check. Requests whose
// Authorization header does not carry exactly token are rejected with 401.
// An empty token disables the check.
func RequireBearer(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := "Bearer " + token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate-tools"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listTables(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ListTablesInput) (*mcpsdk.CallToolResult, ListTablesOutput, error) {
	start := time.Now()
	tables, err := s.store.ListTables(ctx)
	s.record(ctx, "list_tables", start, err)
	if err != nil {
		return nil, ListTablesOutput{}, err
	}
	if tables == nil {
		tables = []string{}
	}
	return nil, ListTablesOutput{Tables: tables}, nil
}

func (s *Server) describeTable(ctx context.Context, _ *mcpsdk.CallToolRequest, in DescribeTableInput) (*mcpsdk.CallToolResult, DescribeTableOutput, error) {
	start := time.Now()
	cols, err := s.store.DescribeTable(ctx, in.Table)
	s.record(ctx, "describe_table", start, err)
	if err != nil {
		return nil, DescribeTableOutput{}, err
	}
	return nil, DescribeTableOutput{Columns: cols}, nil
}

func (s *Server) runQuery(ctx context.Context, _ *mcpsdk.CallToolRequest, in RunQueryInput) (*mcpsdk.CallToolResult, QueryResult, error) {
	if err := ValidateReadOnly(in.SQL); err != nil {
		// A rejected statement is an application-level error the model can
		// correct, not a protocol failure.
		s.record(ctx, "run_query", time.Now(), err)
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		}, QueryResult{}, nil
	}

	start := time.Now()
	result, err := s.store.Query(ctx, in.SQL, in.Limit)
	s.record(ctx, "run_query", start, err)
	if err != nil {
		return nil, QueryResult{}, err
	}

	slog.Debug("query served",
		"rows", len(result.Rows),
		"truncated", result.Truncated,
		"duration", time.Since(start),
	)
	return nil, *result, nil
}

func (s *Server) record(ctx context.Context, tool string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordToolCall(ctx, tool, status)
	s.metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds())
}
