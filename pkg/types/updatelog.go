package types

// UpdateLog is a write-once record of a single market-feed update, persisted
// by the feed logger for replay and audit (§3, §6.2). Payload carries the
// entity-specific JSON blob (BookUpdate/TradeUpdate/DepthUpdate encoded).
type UpdateLog struct {
	Symbol    Symbol `json:"symbol" bson:"symbol"`
	Entity    Entity `json:"entity" bson:"entity"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
	Payload   []byte `json:"payload" bson:"payload"`
}
