package busclient

import "derivbot/pkg/types"

// AliveRoutingKey and ResetRoutingKey are the two fixed, payload-less
// routing keys every subscriber binds (§6.1).
const (
	AliveRoutingKey = "alive"
	ResetRoutingKey = "reset"
)

// EntityRoutingKey builds the "{symbol}.{entity}" routing key a FeedPublisher
// publishes updates on.
func EntityRoutingKey(symbol types.Symbol, entity types.Entity) string {
	return string(symbol) + "." + string(entity)
}

// SubscriptionKeys builds the full routing-key set a Subscriber binds to:
// alive, reset, and one "{symbol}.{entity}" key per (symbol, entity) pair.
func SubscriptionKeys(symbols []types.Symbol, entities []types.Entity) []string {
	keys := make([]string, 0, 2+len(symbols)*len(entities))
	keys = append(keys, AliveRoutingKey, ResetRoutingKey)
	for _, symbol := range symbols {
		for _, entity := range entities {
			keys = append(keys, EntityRoutingKey(symbol, entity))
		}
	}
	return keys
}
