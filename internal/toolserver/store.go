// Package toolserver implements the MCP tool server side of toolgate: it
// exposes read-only query tools (list_tables, describe_table, run_query) over
// a SQL database so that a toolgate gateway — or any other MCP client — can
// answer questions from the data.
package toolserver

import "context"

// DefaultRowLimit caps run_query results when the caller does not ask for
// less.
const DefaultRowLimit = 100

// MaxRowLimit is the hard ceiling on rows returned by run_query.
const MaxRowLimit = 1000

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// QueryResult holds the rows produced by a query. Values are rendered as
// strings; NULL becomes an empty string with no marker, which is acceptable
// for LLM consumption.
type QueryResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`

	// Truncated is true when the row limit cut the result short.
	Truncated bool `json:"truncated,omitempty"`
}

// Store is the database access layer behind the query tools. Implementations
// must be safe for concurrent use.
type Store interface {
	// ListTables returns the user-visible table names, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// DescribeTable returns the columns of the named table.
	DescribeTable(ctx context.Context, table string) ([]Column, error)

	// Query runs a statement already vetted by the read-only guard and
	// returns at most limit rows.
	Query(ctx context.Context, sql string, limit int) (*QueryResult, error)

	// Close releases the underlying connections.
	Close() error
}
