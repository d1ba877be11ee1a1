package connreg

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// seedSQLite creates a database file with a small users table.
func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'grace')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return path
}

func newTestRegistry() *Registry {
	return New(PoolConfig{MaxConns: 2, ConnectTimeout: 5 * time.Second})
}

func TestRegisterSQLite(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	info, err := r.Register(context.Background(), Config{Kind: KindSQLite, Path: seedSQLite(t)})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if info.ID == "" {
		t.Error("no connection id issued")
	}
	if info.Kind != KindSQLite {
		t.Errorf("kind = %q", info.Kind)
	}
	if !strings.HasPrefix(info.ServerVersion, "SQLite ") {
		t.Errorf("server version = %q", info.ServerVersion)
	}
}

func TestRegisterUnsupportedKind(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	if _, err := r.Register(context.Background(), Config{Kind: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestRegisterSQLiteWithoutPath(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	if _, err := r.Register(context.Background(), Config{Kind: KindSQLite}); err == nil {
		t.Fatal("expected error when no path is given")
	}
}

func TestGetReturnsRelationalHandle(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	info, err := r.Register(ctx, Config{Kind: KindSQLite, Path: seedSQLite(t)})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	handle, fp, err := r.Get(info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fp == "" {
		t.Error("empty fingerprint")
	}

	rel, ok := handle.(Relational)
	if !ok {
		t.Fatalf("handle type = %T, want Relational", handle)
	}

	tables, err := rel.Tables(ctx)
	if err != nil || len(tables) != 1 || tables[0] != "users" {
		t.Errorf("Tables = %v, %v", tables, err)
	}

	desc, err := rel.Describe(ctx, "users")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !strings.Contains(desc, "name TEXT NOT NULL") {
		t.Errorf("Describe = %q", desc)
	}

	res, err := rel.Query(ctx, "SELECT name FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "name" {
		t.Errorf("columns = %v", res.Columns)
	}
	if len(res.Rows) != 2 || res.Rows[0][0] != "ada" {
		t.Errorf("rows = %v", res.Rows)
	}

	schema, err := rel.Schema(ctx)
	if err != nil || !strings.Contains(schema, "Table users") {
		t.Errorf("Schema = %q, %v", schema, err)
	}
}

func TestQuerySyntaxError(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	info, _ := r.Register(ctx, Config{Kind: KindSQLite, Path: seedSQLite(t)})
	handle, _, _ := r.Get(info.ID)
	rel := handle.(Relational)

	if _, err := rel.Query(ctx, "SELECT definitely not sql"); err == nil {
		t.Fatal("expected a query error")
	}
}

func TestValidate(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	info, _ := r.Register(ctx, Config{Kind: KindSQLite, Path: seedSQLite(t)})

	health, err := r.Validate(ctx, info.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !health.Valid || health.Error != "" {
		t.Errorf("health = %+v, want valid", health)
	}
	if health.LastChecked.IsZero() {
		t.Error("last_checked not set")
	}
}

func TestValidateUnknownConnection(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	health, err := r.Validate(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if health.Valid {
		t.Error("unknown connection reported valid")
	}
}

func TestDisconnect(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	info, _ := r.Register(ctx, Config{Kind: KindSQLite, Path: seedSQLite(t)})

	if err := r.Disconnect(info.ID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, _, err := r.Get(info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after disconnect = %v, want ErrNotFound", err)
	}
	if err := r.Disconnect(info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Disconnect = %v, want ErrNotFound", err)
	}
}

func TestFingerprintIgnoresCredentials(t *testing.T) {
	a := Config{Kind: KindPostgres, Host: "db", Port: 5432, Database: "app", Username: "alice", Password: "a"}
	b := a
	b.Username, b.Password = "bob", "b"
	if fingerprint(a) != fingerprint(b) {
		t.Error("credentials must not affect the fingerprint")
	}

	c := a
	c.Database = "other"
	if fingerprint(a) == fingerprint(c) {
		t.Error("different databases must not share a fingerprint")
	}
	if !strings.HasPrefix(fingerprint(a), "postgres:") {
		t.Errorf("fingerprint = %q, want kind prefix", fingerprint(a))
	}
}

func TestJSONValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{int64(7), int64(7)},
		{"text", "text"},
		{[]byte("bytes"), "bytes"},
		{ts, "2024-05-01T12:00:00Z"},
		{map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := jsonValue(tt.in); got != tt.want {
			t.Errorf("jsonValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
