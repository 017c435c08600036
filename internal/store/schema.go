package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	ordersCollection    = "orders"
	positionsCollection = "positions"
	updateLogCollection = "update_logs"
)

type indexSpec struct {
	collection string
	model      mongo.IndexModel
}

// allIndexes enumerates every index §6.2 names.
func allIndexes() []indexSpec {
	return []indexSpec{
		{
			collection: ordersCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: ordersCollection,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}},
			},
		},
		{
			collection: ordersCollection,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "side", Value: 1}, {Key: "timestamp", Value: 1}},
			},
		},
		{
			collection: positionsCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: positionsCollection,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "symbol", Value: 1},
					{Key: "strategy_id", Value: 1},
					{Key: "status", Value: 1},
					{Key: "update_ts", Value: 1},
				},
			},
		},
		{
			collection: updateLogCollection,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}},
			},
		},
	}
}
