package connreg

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/chatdb/internal/types"
)

// postgresHandle wraps a pgxpool.Pool. The pool pre-pings connections on
// checkout and reclaims idle ones, so per-query acquisition is cheap and safe
// under concurrency.
type postgresHandle struct {
	pool *pgxpool.Pool
}

func dialPostgres(ctx context.Context, cfg Config, pool PoolConfig) (Handle, string, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, "", fmt.Errorf("username and password are required for postgres")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Username, url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database)

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	if pool.MaxConns > 0 {
		pc.MaxConns = pool.MaxConns
	}
	pc.MinConns = pool.MinConns
	if pool.IdleTimeout > 0 {
		pc.MaxConnIdleTime = pool.IdleTimeout
	}

	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, "", fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, "", fmt.Errorf("probe: %w", err)
	}

	var version string
	if err := p.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		version = ""
	}
	return &postgresHandle{pool: p}, version, nil
}

func (h *postgresHandle) Kind() Kind { return KindPostgres }

func (h *postgresHandle) Ping(ctx context.Context) error {
	var one int
	return h.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (h *postgresHandle) Close() { h.pool.Close() }

func (h *postgresHandle) Tables(ctx context.Context) ([]string, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' ORDER BY table_name`)
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

func (h *postgresHandle) Describe(ctx context.Context, table string) (string, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", err
		}
		col := name + " " + dataType
		if nullable == "NO" {
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

func (h *postgresHandle) Schema(ctx context.Context) (string, error) {
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

func (h *postgresHandle) Query(ctx context.Context, sql string) (*types.Result, error) {
	rows, err := h.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := &types.Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = jsonValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Statements that return no rows report the affected count instead.
	if len(columns) == 0 {
		result.Columns = []string{"affected_rows"}
		result.Rows = [][]any{{rows.CommandTag().RowsAffected()}}
	}
	return result, nil
}
