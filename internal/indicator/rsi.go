package indicator

import "github.com/shopspring/decimal"

// RSI is the Relative Strength Index, Wilder-smoothed over Period closes.
// Mirrors the reference implementation's `_set_rsi` (ewm with
// com=period-1, min_periods=period): undefined until at least period+1
// closes are available.
type RSI struct {
	DefaultPeriod int
}

// Name implements Indicator.
func (RSI) Name() string { return "rsi" }

// Eval implements Indicator. params["period"] overrides DefaultPeriod.
func (r RSI) Eval(closes []decimal.Decimal, index int, params map[string]any) (Fields, bool) {
	period := intParam(params, "period", r.DefaultPeriod)
	if period <= 0 {
		period = 14
	}

	i, ok := normalizeIndex(len(closes), index)
	if !ok || i < period {
		return nil, false
	}

	window := closes[:i+1]
	gains := make([]decimal.Decimal, 0, len(window)-1)
	losses := make([]decimal.Decimal, 0, len(window)-1)
	for k := 1; k < len(window); k++ {
		delta := window[k].Sub(window[k-1])
		if delta.IsPositive() {
			gains = append(gains, delta)
			losses = append(losses, decimal.Zero)
		} else {
			gains = append(gains, decimal.Zero)
			losses = append(losses, delta.Abs())
		}
	}

	avgGain := wilderSmooth(gains, period)
	avgLoss := wilderSmooth(losses, period)

	if avgLoss.IsZero() {
		return Fields{"rsi": decimal.NewFromInt(100)}, true
	}

	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))

	return Fields{"rsi": rsi}, true
}

// wilderSmooth computes Wilder's smoothed moving average over the whole
// series, seeding from the simple mean of the first `period` values and
// carrying an exponential smoothing of 1/period forward through the rest —
// the standard RSI recurrence.
func wilderSmooth(series []decimal.Decimal, period int) decimal.Decimal {
	if len(series) < period {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range series[:period] {
		sum = sum.Add(v)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))

	periodDec := decimal.NewFromInt(int64(period))
	for _, v := range series[period:] {
		avg = avg.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(v).Div(periodDec)
	}
	return avg
}
