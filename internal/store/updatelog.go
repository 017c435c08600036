package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"derivbot/pkg/types"
)

// BulkInsertUpdateLogs writes a batch of update-log documents in one
// round-trip — the feed logger's flush-on-interval path (§2, §6.2's
// bulk_write-with-InsertOne operation).
func (s *Store) BulkInsertUpdateLogs(ctx context.Context, logs []types.UpdateLog) error {
	if len(logs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(logs))
	for i, l := range logs {
		models[i] = mongo.NewInsertOneModel().SetDocument(l)
	}
	return withRetry(ctx, func() error {
		_, err := s.db.Collection(updateLogCollection).BulkWrite(ctx, models)
		if err != nil {
			return fmt.Errorf("bulk insert update logs: %w", err)
		}
		return nil
	})
}

// FindUpdateLogs streams update logs for symbol ordered by (symbol,
// timestamp) within [fromMs, toMs] — the replay player's read path (§6.4).
// toMs <= 0 means no upper bound.
func (s *Store) FindUpdateLogs(ctx context.Context, symbol types.Symbol, fromMs, toMs int64) ([]types.UpdateLog, error) {
	tsFilter := bson.M{"$gte": fromMs}
	if toMs > 0 {
		tsFilter["$lte"] = toMs
	}
	filter := bson.M{"symbol": symbol, "timestamp": tsFilter}

	var logs []types.UpdateLog
	err := withRetry(ctx, func() error {
		cursor, err := s.db.Collection(updateLogCollection).Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}}))
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		logs = nil
		return cursor.All(ctx, &logs)
	})
	if err != nil {
		return nil, fmt.Errorf("find update logs for %s: %w", symbol, err)
	}
	return logs, nil
}

// FindUpdateLogsAcrossSymbols streams update logs for any of symbols,
// ordered purely by timestamp — the replay player's read path (§6.4), which
// needs a single merged global timeline rather than one ordering per symbol.
func (s *Store) FindUpdateLogsAcrossSymbols(ctx context.Context, symbols []types.Symbol, fromMs, toMs int64) ([]types.UpdateLog, error) {
	tsFilter := bson.M{"$gte": fromMs}
	if toMs > 0 {
		tsFilter["$lte"] = toMs
	}
	filter := bson.M{"symbol": bson.M{"$in": symbols}, "timestamp": tsFilter}

	var logs []types.UpdateLog
	err := withRetry(ctx, func() error {
		cursor, err := s.db.Collection(updateLogCollection).Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		logs = nil
		return cursor.All(ctx, &logs)
	})
	if err != nil {
		return nil, fmt.Errorf("find update logs across symbols: %w", err)
	}
	return logs, nil
}
