package connreg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/user/chatdb/internal/types"
)

// sqliteHandle wraps a database/sql pool over a local SQLite file.
type sqliteHandle struct {
	db *sql.DB
}

func dialSQLite(ctx context.Context, cfg Config, pool PoolConfig) (Handle, string, error) {
	path := cfg.Path
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		return nil, "", fmt.Errorf("path is required for sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, "", fmt.Errorf("open: %w", err)
	}
	if pool.MaxConns > 0 {
		db.SetMaxOpenConns(int(pool.MaxConns))
	}
	if pool.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(pool.IdleTimeout)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("probe: %w", err)
	}
	return &sqliteHandle{db: db}, "SQLite " + version, nil
}

func (h *sqliteHandle) Kind() Kind { return KindSQLite }

func (h *sqliteHandle) Ping(ctx context.Context) error {
	var one int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (h *sqliteHandle) Close() { h.db.Close() }

func (h *sqliteHandle) Tables(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (h *sqliteHandle) Describe(ctx context.Context, table string) (string, error) {
	rows, err := h.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return "", err
		}
		col := name + " " + typ
		if notNull == 1 {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %q not found", table)
	}
	return strings.Join(cols, "; "), nil
}

func (h *sqliteHandle) Schema(ctx context.Context) (string, error) {
	tables, err := h.Tables(ctx)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, t := range tables {
		desc, err := h.Describe(ctx, t)
		if err != nil {
			parts = append(parts, fmt.Sprintf("Table %s (schema unavailable)", t))
			continue
		}
		parts = append(parts, fmt.Sprintf("Table %s (%s)", t, desc))
	}
	return strings.Join(parts, "\n"), nil
}

func (h *sqliteHandle) Query(ctx context.Context, query string) (*types.Result, error) {
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &types.Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = jsonValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}
