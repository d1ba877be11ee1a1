package connreg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/user/chatdb/internal/types"
)

const sampleDocs = 3

// mongoHandle wraps a mongo.Client, which maintains its own connection pool.
type mongoHandle struct {
	client   *mongo.Client
	database string
}

func dialMongo(ctx context.Context, cfg Config, pool PoolConfig) (Handle, string, error) {
	var uri string
	if cfg.Username != "" && cfg.Password != "" {
		// Root authenticates against admin, everyone else against the
		// target database.
		authSource := cfg.Database
		if cfg.Username == "root" {
			authSource = "admin"
		}
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=%s",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, authSource)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}

	opts := options.Client().ApplyURI(uri)
	if pool.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(pool.MaxConns))
	}
	if pool.IdleTimeout > 0 {
		opts.SetMaxConnIdleTime(pool.IdleTimeout)
	}
	if pool.ConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(pool.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}

	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		client.Disconnect(context.Background())
		return nil, "", fmt.Errorf("probe: %w", err)
	}

	var buildInfo struct {
		Version string `bson:"version"`
	}
	version := ""
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&buildInfo); err == nil {
		version = "MongoDB " + buildInfo.Version
	}
	return &mongoHandle{client: client, database: cfg.Database}, version, nil
}

func (h *mongoHandle) Kind() Kind { return KindMongo }

func (h *mongoHandle) Ping(ctx context.Context) error {
	return h.client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

func (h *mongoHandle) Close() {
	h.client.Disconnect(context.Background())
}

func (h *mongoHandle) Collections(ctx context.Context) ([]string, error) {
	names, err := h.client.Database(h.database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Sample reads a few documents and summarizes the fields they carry, giving
// the generation prompt a schema to work from.
func (h *mongoHandle) Sample(ctx context.Context, collection string) (string, error) {
	coll := h.client.Database(h.database).Collection(collection)

	count, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return "", fmt.Errorf("count %s: %w", collection, err)
	}

	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(sampleDocs))
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	fields := make(map[string]string)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return "", err
		}
		for key, value := range doc {
			if key == "_id" {
				continue
			}
			if _, seen := fields[key]; !seen {
				fields[key] = fmt.Sprintf("%T", value)
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return "", err
	}

	if len(fields) == 0 {
		return fmt.Sprintf("Collection %s (empty)", collection), nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + fields[name]
	}
	return fmt.Sprintf("Collection %s (%d documents): %s", collection, count, strings.Join(parts, "; ")), nil
}

func (h *mongoHandle) Schema(ctx context.Context) (string, error) {
	collections, err := h.Collections(ctx)
	if err != nil {
		return "", err
	}
	parts := []string{fmt.Sprintf("MongoDB database: %s", h.database)}
	for _, name := range collections {
		summary, err := h.Sample(ctx, name)
		if err != nil {
			parts = append(parts, fmt.Sprintf("Collection %s (schema unavailable)", name))
			continue
		}
		parts = append(parts, summary)
	}
	return strings.Join(parts, "\n"), nil
}

// Find flattens matching documents into a tabular result: the column set is
// the sorted union of field names across matches, _id excluded.
func (h *mongoHandle) Find(ctx context.Context, collection string, filter map[string]any, limit int64) (*types.Result, error) {
	coll := h.client.Database(h.database).Collection(collection)

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := coll.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	keys := make(map[string]bool)
	for _, doc := range docs {
		for key := range doc {
			if key != "_id" {
				keys[key] = true
			}
		}
	}
	columns := make([]string, 0, len(keys))
	for key := range keys {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	result := &types.Result{Columns: columns, Rows: [][]any{}}
	for _, doc := range docs {
		row := make([]any, len(columns))
		for i, col := range columns {
			if value, ok := doc[col]; ok {
				row[i] = jsonValue(value)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func (h *mongoHandle) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	return h.client.Database(h.database).Collection(collection).CountDocuments(ctx, bson.M(filter))
}
