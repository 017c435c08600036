package command

import (
	"time"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// weightedTotals returns (sum(quantity*entry_price), sum(quantity)) over
// orders, the inputs to the quantity-weighted average price update (§4.6).
func weightedTotals(orders []types.Order) (totalPrice, totalQuantity decimal.Decimal) {
	totalPrice, totalQuantity = decimal.Zero, decimal.Zero
	for _, o := range orders {
		totalPrice = totalPrice.Add(o.Quantity.Mul(o.EntryPrice))
		totalQuantity = totalQuantity.Add(o.Quantity)
	}
	return totalPrice, totalQuantity
}
