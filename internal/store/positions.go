package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"derivbot/pkg/types"
)

// CreatePosition inserts a new position document (command.Store).
func (s *Store) CreatePosition(ctx context.Context, position types.Position) error {
	return withRetry(ctx, func() error {
		_, err := s.db.Collection(positionsCollection).InsertOne(ctx, position)
		if err != nil {
			return fmt.Errorf("create position %s: %w", position.ID, err)
		}
		return nil
	})
}

// UpdatePosition replaces the position document matching id (command.Store —
// called after every fill that mutates quantity/entry_price/status).
func (s *Store) UpdatePosition(ctx context.Context, position types.Position) error {
	return withRetry(ctx, func() error {
		_, err := s.db.Collection(positionsCollection).ReplaceOne(ctx, bson.M{"id": position.ID}, position)
		if err != nil {
			return fmt.Errorf("update position %s: %w", position.ID, err)
		}
		return nil
	})
}

// FindOpenPositions returns every OPEN position for strategyID restricted to
// symbols (strategy.Store — startup reconciliation, §4.8).
func (s *Store) FindOpenPositions(ctx context.Context, strategyID string, symbols []types.Symbol) ([]types.Position, error) {
	filter := bson.M{
		"strategy_id": strategyID,
		"status":      types.PositionOpen,
	}
	if len(symbols) > 0 {
		filter["symbol"] = bson.M{"$in": symbols}
	}

	var positions []types.Position
	err := withRetry(ctx, func() error {
		cursor, err := s.db.Collection(positionsCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "update_ts", Value: 1}}))
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		positions = nil
		return cursor.All(ctx, &positions)
	})
	if err != nil {
		return nil, fmt.Errorf("find open positions for %s: %w", strategyID, err)
	}
	return positions, nil
}
