// Package connreg owns live database connection handles: pooling, liveness
// probing, and teardown. Connections are referenced by opaque identifiers and
// never shared by value.
package connreg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/chatdb/internal/types"
)

var (
	ErrNotFound = errors.New("connection not found")
	ErrInvalid  = errors.New("connection is not healthy")
)

// Status is the health state of a registered connection.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusInvalid Status = "invalid"
)

// Config describes a connection to register.
type Config struct {
	Kind     Kind   `json:"db_type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Path is the database file for the sqlite kind.
	Path string `json:"path"`
}

// PoolConfig bounds every handle's resource usage.
type PoolConfig struct {
	MaxConns       int32
	MinConns       int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Info is returned on a successful Register.
type Info struct {
	ID            types.ConnectionID `json:"connection_id"`
	Kind          Kind               `json:"db_type"`
	Database      string             `json:"database"`
	ServerVersion string             `json:"server_version,omitempty"`
}

// Health is the outcome of a Validate probe.
type Health struct {
	ID          types.ConnectionID `json:"connection_id"`
	Valid       bool               `json:"is_valid"`
	LastChecked time.Time          `json:"last_checked"`
	Error       string             `json:"error,omitempty"`
}

type entry struct {
	id          types.ConnectionID
	kind        Kind
	database    string
	fingerprint string
	status      Status
	createdAt   time.Time
	lastChecked time.Time
	handle      Handle
}

// Registry maps connection identifiers to live handles.
type Registry struct {
	mu    sync.RWMutex
	conns map[types.ConnectionID]*entry
	pool  PoolConfig
}

// New creates an empty Registry applying the given pool bounds to every
// handle it constructs.
func New(pool PoolConfig) *Registry {
	return &Registry{
		conns: make(map[types.ConnectionID]*entry),
		pool:  pool,
	}
}

// Register constructs a pooled handle for the requested kind and probes it
// before issuing an identifier. On any failure no identifier is issued.
func (r *Registry) Register(ctx context.Context, cfg Config) (*Info, error) {
	dialCtx := ctx
	if r.pool.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.pool.ConnectTimeout)
		defer cancel()
	}

	var (
		handle  Handle
		version string
		err     error
	)
	switch cfg.Kind {
	case KindPostgres:
		handle, version, err = dialPostgres(dialCtx, cfg, r.pool)
	case KindSQLite:
		handle, version, err = dialSQLite(dialCtx, cfg, r.pool)
	case KindMongo:
		handle, version, err = dialMongo(dialCtx, cfg, r.pool)
	default:
		return nil, fmt.Errorf("unsupported db_type %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Kind, err)
	}

	now := time.Now()
	e := &entry{
		id:          types.NewConnectionID(),
		kind:        cfg.Kind,
		database:    cfg.Database,
		fingerprint: fingerprint(cfg),
		status:      StatusHealthy,
		createdAt:   now,
		lastChecked: now,
		handle:      handle,
	}

	r.mu.Lock()
	r.conns[e.id] = e
	r.mu.Unlock()

	slog.Info("connection registered", "connection_id", string(e.id), "db_type", string(cfg.Kind), "database", cfg.Database)
	return &Info{ID: e.id, Kind: cfg.Kind, Database: cfg.Database, ServerVersion: version}, nil
}

// Validate re-runs the liveness probe for an existing connection without
// tearing it down. A failed probe marks the entry invalid but keeps it
// registered so it can still be inspected or disconnected.
func (r *Registry) Validate(ctx context.Context, id types.ConnectionID) (*Health, error) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()

	now := time.Now()
	if !ok {
		return &Health{ID: id, Valid: false, LastChecked: now, Error: ErrNotFound.Error()}, ErrNotFound
	}

	err := e.handle.Ping(ctx)

	r.mu.Lock()
	e.lastChecked = now
	if err != nil {
		e.status = StatusInvalid
	} else {
		e.status = StatusHealthy
	}
	r.mu.Unlock()

	if err != nil {
		return &Health{ID: id, Valid: false, LastChecked: now, Error: err.Error()}, nil
	}
	return &Health{ID: id, Valid: true, LastChecked: now}, nil
}

// Get returns the handle and its db-context fingerprint. Only healthy
// connections are handed out.
func (r *Registry) Get(id types.ConnectionID) (Handle, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	if e.status != StatusHealthy {
		return nil, "", ErrInvalid
	}
	return e.handle, e.fingerprint, nil
}

// Database returns the target database name for a registered connection.
func (r *Registry) Database(id types.ConnectionID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return "", ErrNotFound
	}
	return e.database, nil
}

// Disconnect tears the pool down eagerly and removes the entry. The
// identifier is never reused.
func (r *Registry) Disconnect(id types.ConnectionID) error {
	r.mu.Lock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.handle.Close()
	slog.Info("connection disconnected", "connection_id", string(id))
	return nil
}

// Close disconnects every registered connection. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[types.ConnectionID]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		e.handle.Close()
	}
}

// fingerprint derives the cache partitioning key for a connection target.
// Credentials are deliberately excluded: two logins against the same database
// share cached answers, unrelated databases never do.
func fingerprint(cfg Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", cfg.Kind, cfg.Host, cfg.Port, cfg.Database, cfg.Path)
	return string(cfg.Kind) + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
