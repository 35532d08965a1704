package toolserver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a [Store] backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL using the given DSN and verifies
// the connection with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("toolserver: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("toolserver: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// ListTables implements [Store].
func (s *PostgresStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

// DescribeTable implements [Store].
func (s *PostgresStore) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_name = $1
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY ordinal_position`, table)
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
func (s *PostgresStore) Query(ctx context.Context, sql string, limit int) (*QueryResult, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("toolserver: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &QueryResult{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		if len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("toolserver: query: %w", err)
		}
		result.Rows = append(result.Rows, renderRow(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolserver: query: %w", err)
	}
	return result, nil
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// clampLimit applies the default and the hard ceiling.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRowLimit
	}
	if limit > MaxRowLimit {
		return MaxRowLimit
	}
	return limit
}

// renderRow stringifies one row of driver values.
func renderRow(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
