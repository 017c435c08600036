package strategy

import (
	"github.com/shopspring/decimal"

	"derivbot/internal/config"
	"derivbot/pkg/types"
)

// CalcTradeQuantity implements calc_trade_quantity (§4.7): the entry size
// for a new position, rounded to the contract's lot size and refused
// (ok=false) if it would fall below min notional.
func CalcTradeQuantity(contract types.Contract, account *types.Account, book types.BookUpdate, side types.Side, leverage int, stake decimal.Decimal) (decimal.Decimal, bool) {
	price := book.Bid
	if side == types.SELL {
		price = book.Ask
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}

	balance := account.Balance(contract.QuoteAsset)
	rawQty := balance.Mul(stake).Mul(decimal.NewFromInt(int64(leverage))).Div(price)
	qty := contract.RoundToLotSize(rawQty)

	if !contract.MeetsMinNotional(qty, price) {
		return decimal.Zero, false
	}
	return qty, true
}

// StopLossTriggered reports whether book has crossed the fixed stop-loss
// trigger for position (§4.7): entry_price*(1-rate) for LONG, mirrored for
// SHORT.
func StopLossTriggered(position types.Position, book types.BookUpdate, rate decimal.Decimal) bool {
	one := decimal.NewFromInt(1)
	switch position.Side {
	case types.PositionLong:
		trigger := position.EntryPrice.Mul(one.Sub(rate))
		return book.Bid.LessThanOrEqual(trigger)
	case types.PositionShort:
		trigger := position.EntryPrice.Mul(one.Add(rate))
		return book.Ask.GreaterThanOrEqual(trigger)
	default:
		return false
	}
}

// TakeProfitDecision is the outcome of evaluating one ladder step.
type TakeProfitDecision struct {
	Quantity  decimal.Decimal
	FullClose bool
}

// TakeProfit evaluates the next untaken rung of the take-profit ladder
// against the current book (§4.7). exitOrderCount is the number of exit
// fills already recorded against position (Position.ExitOrderCount) — the
// next step index. ok is false when no further step has triggered yet.
func TakeProfit(position types.Position, contract types.Contract, book types.BookUpdate, steps []config.TakeProfitStep, exitOrderCount int) (TakeProfitDecision, bool) {
	if exitOrderCount >= len(steps) {
		return TakeProfitDecision{}, false
	}
	step := steps[exitOrderCount]
	one := decimal.NewFromInt(1)

	var price decimal.Decimal
	switch position.Side {
	case types.PositionLong:
		price = book.Bid
		trigger := position.EntryPrice.Mul(one.Add(step.Level))
		if price.LessThan(trigger) {
			return TakeProfitDecision{}, false
		}
	case types.PositionShort:
		price = book.Ask
		trigger := position.EntryPrice.Mul(one.Sub(step.Level))
		if price.GreaterThan(trigger) {
			return TakeProfitDecision{}, false
		}
	default:
		return TakeProfitDecision{}, false
	}
	if !price.IsPositive() {
		return TakeProfitDecision{}, false
	}

	qty := position.TotalQuantity.Mul(step.Stake)
	minQty := contract.MinNotional.Div(price)
	if qty.LessThan(minQty) {
		qty = minQty
	}

	// If taking qty now would leave a tail too small to clear min notional
	// on its own, fold the whole remaining position into this exit instead.
	remainder := position.Quantity.Sub(qty)
	if qty.GreaterThanOrEqual(position.Quantity) || (remainder.IsPositive() && remainder.Mul(price).LessThan(contract.MinNotional)) {
		return TakeProfitDecision{Quantity: position.Quantity, FullClose: true}, true
	}
	return TakeProfitDecision{Quantity: qty}, true
}
