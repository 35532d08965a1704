package toolserver

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a [Store] backed by an SQLite database file. Intended for
// local development and demos; production deployments use [PostgresStore].
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at path, creating it if missing.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("toolserver: open sqlite %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("toolserver: ping sqlite %q: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for test fixtures.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ListTables implements [Store].
func (s *SQLiteStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("toolserver: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("toolserver: list tables: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolserver: list tables: %w", err)
	}
	return tables, nil
}

// DescribeTable implements [Store]. Uses the table_info pragma; the table
// name goes through a parameter, which SQLite supports for pragma functions.
func (s *SQLiteStore) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, "notnull" = 0 FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("toolserver: describe %q: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("toolserver: describe %q: %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolserver: describe %q: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("toolserver: table %q does not exist", table)
	}
	return cols, nil
}

// Query implements [Store].
func (s *SQLiteStore) Query(ctx context.Context, query string, limit int) (*QueryResult, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("toolserver: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("toolserver: query: %w", err)
	}
	result := &QueryResult{Columns: cols}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("toolserver: query: %w", err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			switch t := v.(type) {
			case nil:
			case []byte:
				row[i] = string(t)
			default:
				row[i] = fmt.Sprint(t)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolserver: query: %w", err)
	}
	return result, nil
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
