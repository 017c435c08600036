package types

import "github.com/shopspring/decimal"

// Order is the durable record of a single venue order, keyed by Id. Its
// lifecycle is NEW → (PARTIALLY_FILLED →) FILLED | CANCELED | REJECTED | EXPIRED (§3).
type Order struct {
	ID             string          `json:"id" bson:"id"`
	ClientOrderID  string          `json:"client_order_id" bson:"client_order_id"`
	PositionID     string          `json:"position_id,omitempty" bson:"position_id,omitempty"`
	Symbol         Symbol          `json:"symbol" bson:"symbol"`
	Status         OrderStatus     `json:"status" bson:"status"`
	Type           OrderType       `json:"type" bson:"type"`
	Side           Side            `json:"side" bson:"side"`
	PositionSide   PositionSide    `json:"position_side" bson:"position_side"`
	Quantity       decimal.Decimal `json:"quantity" bson:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price" bson:"entry_price"`
	Context        map[string]any  `json:"context,omitempty" bson:"context,omitempty"`
	Timestamp      int64           `json:"timestamp" bson:"timestamp"`
}

// IsFilled reports whether the order reached the FILLED terminal state.
func (o Order) IsFilled() bool { return o.Status.IsFilled() }

// IsProcessed reports whether the order reached any terminal state.
func (o Order) IsProcessed() bool { return o.Status.IsProcessed() }

// Merge applies the non-zero/non-empty fields of patch onto a copy of o,
// the partial_update semantics used by update_order (§4.6).
func (o Order) Merge(patch Order) Order {
	merged := o
	if patch.Status != "" {
		merged.Status = patch.Status
	}
	if patch.PositionID != "" {
		merged.PositionID = patch.PositionID
	}
	if !patch.Quantity.IsZero() {
		merged.Quantity = patch.Quantity
	}
	if !patch.EntryPrice.IsZero() {
		merged.EntryPrice = patch.EntryPrice
	}
	if patch.Context != nil {
		merged.Context = patch.Context
	}
	if patch.Timestamp != 0 {
		merged.Timestamp = patch.Timestamp
	}
	return merged
}

// Position is the in-memory/durable aggregate of entry and exit fills for a
// (symbol, side) pair under one strategy (§3 invariants 1-4).
type Position struct {
	ID            string          `json:"id" bson:"id"`
	Symbol        Symbol          `json:"symbol" bson:"symbol"`
	Side          PositionSide    `json:"side" bson:"side"`
	StrategyID    string          `json:"strategy_id" bson:"strategy_id"`
	Status        PositionStatus  `json:"status" bson:"status"`
	Quantity      decimal.Decimal `json:"quantity" bson:"quantity"`
	TotalQuantity decimal.Decimal `json:"total_quantity" bson:"total_quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price" bson:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price" bson:"exit_price"`
	Orders        []string        `json:"orders" bson:"orders"`
	CreateTS      int64           `json:"create_ts" bson:"create_ts"`
	UpdateTS      int64           `json:"update_ts" bson:"update_ts"`
}

// IsEntryFill reports whether a fill on Side s enters this position
// (LONG<->BUY, SHORT<->SELL — §4.6).
func (p Position) IsEntryFill(s Side) bool {
	return s == p.Side.EntrySide()
}

// ExitOrderCount returns how many orders already attached to this position
// were on the exit side — the take-profit ladder's "next step index" (§4.7).
func (p Position) ExitOrderCount(orders map[string]Order) int {
	count := 0
	for _, id := range p.Orders {
		if o, ok := orders[id]; ok && o.Side == p.Side.ExitSide() {
			count++
		}
	}
	return count
}
