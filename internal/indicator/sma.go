package indicator

import "github.com/shopspring/decimal"

// SMA is the simple moving average over a rolling window, mirroring the
// reference implementation's `_set_sma` (window mean, min_periods=1: it
// reports a value as soon as any history exists, using however many
// candles are available below the configured period).
type SMA struct {
	DefaultPeriod int
}

// Name implements Indicator.
func (SMA) Name() string { return "sma" }

// Eval implements Indicator. params["period"] overrides DefaultPeriod.
func (s SMA) Eval(closes []decimal.Decimal, index int, params map[string]any) (Fields, bool) {
	period := intParam(params, "period", s.DefaultPeriod)
	if period <= 0 {
		period = 12
	}

	i, ok := normalizeIndex(len(closes), index)
	if !ok {
		return nil, false
	}

	from := i - period + 1
	if from < 0 {
		from = 0
	}
	window := closes[from : i+1]
	if len(window) == 0 {
		return nil, false
	}

	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(window))))

	return Fields{"sma": mean}, true
}
