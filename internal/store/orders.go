package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"derivbot/pkg/types"
)

// CreateOrder inserts a new order document (command.Store).
func (s *Store) CreateOrder(ctx context.Context, order types.Order) error {
	return withRetry(ctx, func() error {
		_, err := s.db.Collection(ordersCollection).InsertOne(ctx, order)
		if err != nil {
			return fmt.Errorf("create order %s: %w", order.ID, err)
		}
		return nil
	})
}

// CountOrders returns how many order documents already carry id — the
// idempotency check update_order performs before recording a fill twice
// (§4.6, command.Store).
func (s *Store) CountOrders(ctx context.Context, id string) (int64, error) {
	var count int64
	err := withRetry(ctx, func() error {
		var innerErr error
		count, innerErr = s.db.Collection(ordersCollection).CountDocuments(ctx, bson.M{"id": id})
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("count orders %s: %w", id, err)
	}
	return count, nil
}

// FindOrders returns the orders matching ids, in no particular order
// (strategy.Store — reconciliation hydrates a position's attached orders).
func (s *Store) FindOrders(ctx context.Context, ids []string) ([]types.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orders []types.Order
	err := withRetry(ctx, func() error {
		cursor, err := s.db.Collection(ordersCollection).Find(ctx, bson.M{"id": bson.M{"$in": ids}})
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		orders = nil
		return cursor.All(ctx, &orders)
	})
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	return orders, nil
}

// UpdateOrder replaces the order document matching id with patch's fields
// already merged in by the caller (Order.Merge implements partial_update's
// set-fields-return-after semantics in memory; this call persists the
// result).
func (s *Store) UpdateOrder(ctx context.Context, order types.Order) error {
	return withRetry(ctx, func() error {
		_, err := s.db.Collection(ordersCollection).ReplaceOne(ctx, bson.M{"id": order.ID}, order)
		if err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}
		return nil
	})
}
