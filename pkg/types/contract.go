package types

import "github.com/shopspring/decimal"

// Symbol is a venue trading-pair identifier, e.g. "BTCUSDT".
type Symbol string

// Contract holds the per-symbol trading rules the venue publishes. It is
// immutable for the lifetime of a run and refreshed only on process start (§3).
type Contract struct {
	Symbol           Symbol          `json:"symbol" bson:"symbol"`
	BaseAsset        string          `json:"base_asset" bson:"base_asset"`
	QuoteAsset       string          `json:"quote_asset" bson:"quote_asset"`
	PriceDecimals    int32           `json:"price_decimals" bson:"price_decimals"`
	QuantityDecimals int32           `json:"quantity_decimals" bson:"quantity_decimals"`
	TickSize         decimal.Decimal `json:"tick_size" bson:"tick_size"`
	LotSize          decimal.Decimal `json:"lot_size" bson:"lot_size"`
	MinNotional      decimal.Decimal `json:"min_notional" bson:"min_notional"`
}

// RoundToLotSize rounds qty to the nearest multiple of the contract's
// LotSize, matching calc_trade_quantity's `round(raw_qty / lot_size) * lot_size` (§4.7).
func (c Contract) RoundToLotSize(qty decimal.Decimal) decimal.Decimal {
	if c.LotSize.IsZero() {
		return qty
	}
	units := qty.Div(c.LotSize).Round(0)
	return units.Mul(c.LotSize)
}

// RoundPrice rounds a price to the contract's PriceDecimals decimal places,
// half away from zero; TickSize is not used.
func (c Contract) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(c.PriceDecimals)
}

// MeetsMinNotional reports whether qty*price clears the contract's min notional.
func (c Contract) MeetsMinNotional(qty, price decimal.Decimal) bool {
	return qty.Mul(price).GreaterThanOrEqual(c.MinNotional)
}
