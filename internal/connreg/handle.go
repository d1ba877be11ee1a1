package connreg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/chatdb/internal/types"
)

// Kind is the closed set of supported database kinds.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindMongo    Kind = "mongodb"
)

// Handle is a pooled, concurrency-safe database handle. Callers acquire and
// release underlying resources per operation; a Handle is never held
// exclusively across a request.
type Handle interface {
	Kind() Kind
	// Ping runs a lightweight liveness probe against the pool.
	Ping(ctx context.Context) error
	// Schema returns a textual description of the database's structure,
	// suitable for inclusion in a generation prompt.
	Schema(ctx context.Context) (string, error)
	// Close tears the pool down eagerly.
	Close()
}

// Relational is a Handle over a SQL database.
type Relational interface {
	Handle
	Tables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) (string, error)
	Query(ctx context.Context, sql string) (*types.Result, error)
}

// Document is a Handle over a document store.
type Document interface {
	Handle
	Collections(ctx context.Context) ([]string, error)
	// Sample summarizes the fields seen in a few documents of a collection.
	Sample(ctx context.Context, collection string) (string, error)
	Find(ctx context.Context, collection string, filter map[string]any, limit int64) (*types.Result, error)
	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)
}

// jsonValue converts a driver value into something json.Marshal handles
// without surprises: times become RFC 3339 strings, byte slices become
// strings, and composites are flattened to their JSON text.
func jsonValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	case bool, string, int, int32, int64, float32, float64:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
