package strategy

import (
	"github.com/shopspring/decimal"

	"derivbot/internal/candles"
	"derivbot/internal/config"
	"derivbot/pkg/types"
)

// triggerKey groups StrategyCondition evaluations the way check_signal
// does before comparing against conditions_trigger_count (§4.7).
type triggerKey struct {
	positionSide types.PositionSide
	orderSide    types.Side
}

// evalCondition reports whether cond's (field, op, value) test passes at
// any of the most recent saveSignalCandles indices — {-1,...,-N} — on the
// given view. The first passing index short-circuits the scan (§4.7).
func evalCondition(view *candles.IndicatorView, cond config.StrategyCondition, saveSignalCandles int) bool {
	if saveSignalCandles < 1 {
		saveSignalCandles = 1
	}
	for i := 1; i <= saveSignalCandles; i++ {
		fields, ok := view.Eval(cond.Indicator, -i, cond.Parameters)
		if !ok {
			continue
		}
		value, ok := fields[cond.Field]
		if !ok {
			continue
		}
		if compareField(value, cond.Op, cond.Value) {
			return true
		}
	}
	return false
}

func compareField(value decimal.Decimal, op string, target float64) bool {
	t := decimal.NewFromFloat(target)
	switch op {
	case "eq":
		return value.Equal(t)
	case "lt":
		return value.LessThan(t)
	case "lte":
		return value.LessThanOrEqual(t)
	case "gt":
		return value.GreaterThan(t)
	case "gte":
		return value.GreaterThanOrEqual(t)
	default:
		return false
	}
}
