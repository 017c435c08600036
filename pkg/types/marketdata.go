package types

import "github.com/shopspring/decimal"

// BookUpdate is the best bid/ask for a symbol on a given stream. Only the
// latest pair is retained per (symbol, stream) — there is no history (§3).
type BookUpdate struct {
	Symbol Symbol          `json:"symbol" bson:"symbol"`
	Bid    decimal.Decimal `json:"bid" bson:"bid"`
	Ask    decimal.Decimal `json:"ask" bson:"ask"`
}

// Valid reports whether both sides are usable prices. Trailing-stop and
// stop-loss evaluation must ignore abnormal books (§4.6).
func (b BookUpdate) Valid() bool {
	return b.Bid.IsPositive() && b.Ask.IsPositive()
}

// Equal reports whether two books carry the same (bid, ask) pair, the
// dedup key the feed publisher uses before republishing (§4.1).
func (b BookUpdate) Equal(o BookUpdate) bool {
	return b.Bid.Equal(o.Bid) && b.Ask.Equal(o.Ask)
}

// TradeUpdate is a single executed trade on the public stream.
type TradeUpdate struct {
	Symbol       Symbol          `json:"symbol" bson:"symbol"`
	Price        decimal.Decimal `json:"price" bson:"price"`
	Quantity     decimal.Decimal `json:"quantity" bson:"quantity"`
	Timestamp    int64           `json:"timestamp" bson:"timestamp"`
	IsBuyerMaker bool            `json:"is_buyer_maker" bson:"is_buyer_maker"`
}

// PriceLevel is one (price, quantity) row of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price" bson:"price"`
	Quantity decimal.Decimal `json:"quantity" bson:"quantity"`
}

// DepthUpdate is a diff (or snapshot, when FirstUpdateID == 0) against the
// running order book for a symbol, sequenced by FirstUpdateID/LastUpdateID (§4.5).
type DepthUpdate struct {
	Symbol        Symbol       `json:"symbol" bson:"symbol"`
	FirstUpdateID int64        `json:"first_update_id" bson:"first_update_id"`
	LastUpdateID  int64        `json:"last_update_id" bson:"last_update_id"`
	Bids          []PriceLevel `json:"bids" bson:"bids"`
	Asks          []PriceLevel `json:"asks" bson:"asks"`
	Timestamp     int64        `json:"timestamp" bson:"timestamp"`
}

// Candle is one OHLCV bar, keyed by (symbol, timeframe, timestamp) where
// Timestamp is the bar-open time (§4.3).
type Candle struct {
	Symbol    Symbol          `json:"symbol" bson:"symbol"`
	Timeframe Timeframe       `json:"timeframe" bson:"timeframe"`
	Open      decimal.Decimal `json:"open" bson:"open"`
	High      decimal.Decimal `json:"high" bson:"high"`
	Low       decimal.Decimal `json:"low" bson:"low"`
	Close     decimal.Decimal `json:"close" bson:"close"`
	Volume    decimal.Decimal `json:"volume" bson:"volume"`
	Timestamp int64           `json:"timestamp" bson:"timestamp"`
}

// Clone returns a shallow copy safe to mutate independently, used when the
// aggregator appends a new bar seeded from the previous close (§4.3).
func (c Candle) Clone() Candle {
	return c
}
