// Package store is the document store (§6.2): a thin Mongo-backed wrapper
// exposing the CRUD contract CommandHandler and Strategy need for
// OrderModel/PositionModel, plus UpdateLogModel persistence for the feed
// logger and replay.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultDatabase = "derivbot"

// Store wraps the Mongo client and database handle every collection-specific
// file in this package operates against.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Connect dials Mongo and verifies connectivity. uri may include the
// database name in its path (mongodb://host/derivbot); defaults to
// "derivbot" otherwise.
func Connect(ctx context.Context, uri string, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	dbName := defaultDatabase
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	s := &Store{client: client, db: client.Database(dbName), logger: logger.With("component", "store")}
	s.logger.Info("connected to mongo", "database", dbName)
	return s, nil
}

// Close disconnects from Mongo.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates every index named in §6.2. Idempotent — safe to call
// on every process start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, idx := range allIndexes() {
		if _, err := s.db.Collection(idx.collection).Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.collection, err)
		}
	}
	s.logger.Info("mongo indexes ensured")
	return nil
}
