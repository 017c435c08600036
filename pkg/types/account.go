package types

import "github.com/shopspring/decimal"

// AccountPosition is the venue's own view of a position, keyed by
// (symbol, side), hydrated at startup and patched by the user stream (§3).
type AccountPosition struct {
	Symbol     Symbol          `json:"symbol" bson:"symbol"`
	Side       PositionSide    `json:"side" bson:"side"`
	Quantity   decimal.Decimal `json:"quantity" bson:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price" bson:"entry_price"`
	Isolated   bool            `json:"isolated" bson:"isolated"`
	Margin     decimal.Decimal `json:"margin" bson:"margin"`
	Leverage   int32           `json:"leverage" bson:"leverage"`
}

// Account is the strategy's venue-side wallet and position snapshot,
// hydrated at start by GetAccountInfo and patched in place by the user
// stream's account_update events (§3, §6.3).
type Account struct {
	Assets    map[string]decimal.Decimal `json:"assets" bson:"assets"`
	Positions []AccountPosition          `json:"positions" bson:"positions"`
}

// Position looks up the AccountPosition for (symbol, side), if the venue
// reported one.
func (a *Account) Position(symbol Symbol, side PositionSide) (AccountPosition, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Side == side {
			return p, true
		}
	}
	return AccountPosition{}, false
}

// UpsertPosition replaces the matching (symbol, side) entry or appends a new
// one, the shape an account_update patch applies (§6.3).
func (a *Account) UpsertPosition(p AccountPosition) {
	for i := range a.Positions {
		if a.Positions[i].Symbol == p.Symbol && a.Positions[i].Side == p.Side {
			a.Positions[i] = p
			return
		}
	}
	a.Positions = append(a.Positions, p)
}

// Balance returns the wallet balance for an asset, or zero if unknown.
func (a *Account) Balance(asset string) decimal.Decimal {
	if a.Assets == nil {
		return decimal.Zero
	}
	return a.Assets[asset]
}
