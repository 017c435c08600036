package candles

import (
	"github.com/shopspring/decimal"

	"derivbot/internal/indicator"
)

// IndicatorView is a lazy projection of an Aggregator's candle ring onto a
// registry of indicators (§4.4). Nothing is computed until Eval is called,
// and nothing is cached across ticks: each Eval re-derives the close series
// from the aggregator's current ring, matching the reference
// implementation's reset-on-tick invalidation of its cached dataframe.
type IndicatorView struct {
	agg      *Aggregator
	registry *indicator.Registry
}

// NewIndicatorView builds a view over agg using reg to resolve indicator names.
func NewIndicatorView(agg *Aggregator, reg *indicator.Registry) *IndicatorView {
	return &IndicatorView{agg: agg, registry: reg}
}

// Eval evaluates the named indicator at a Python-style candle index with the
// given parameters. ok is false when the indicator name is unknown or the
// indicator itself reports its fields undefined at this index.
func (v *IndicatorView) Eval(name string, index int, params map[string]any) (indicator.Fields, bool) {
	ind, ok := v.registry.Get(name)
	if !ok {
		return nil, false
	}
	return ind.Eval(v.closes(), index, params)
}

func (v *IndicatorView) closes() []decimal.Decimal {
	all := v.agg.All()
	closes := make([]decimal.Decimal, len(all))
	for i, c := range all {
		closes[i] = c.Close
	}
	return closes
}
