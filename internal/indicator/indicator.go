// Package indicator defines the pluggable technical-indicator interface the
// strategy engine's signal evaluation consumes (§4.4, §4.7). Only the
// interface plus two reference implementations (SMA, RSI) are built here —
// the platform treats the indicator catalog (EMA, MACD, Bollinger,
// Stochastic, OBV, Elder Ray, Ichimoku, candlestick patterns, pump/dump
// levels) as a pluggable surface, not a closed set this package must cover.
package indicator

import "github.com/shopspring/decimal"

// Fields is the named numeric output of one indicator evaluation at one
// candle index, e.g. {"rsi": 71.2} or {"sma": 20123.4}. A condition checks
// one named field against an operator and value (§4.7).
type Fields map[string]decimal.Decimal

// Indicator evaluates itself against a closed series of candle closes.
// Index follows the Python-style convention used throughout candle lookups:
// -1 is the most recent candle, -2 the one before it, and so on.
type Indicator interface {
	// Name identifies the indicator for StrategyCondition.Indicator matching.
	Name() string

	// Eval computes Fields at index using closes (oldest first). ok is false
	// when there isn't enough history yet for the configured period — the
	// condition is then treated as "not defined" and never triggers (§4.7:
	// "true iff the indicator's field is defined AND passes").
	Eval(closes []decimal.Decimal, index int, params map[string]any) (Fields, bool)
}

// Registry looks indicators up by name for StrategyCondition evaluation.
type Registry struct {
	indicators map[string]Indicator
}

// NewRegistry builds a Registry from a set of indicators, keyed by Name().
func NewRegistry(indicators ...Indicator) *Registry {
	r := &Registry{indicators: make(map[string]Indicator, len(indicators))}
	for _, ind := range indicators {
		r.indicators[ind.Name()] = ind
	}
	return r
}

// Get looks up an indicator by name.
func (r *Registry) Get(name string) (Indicator, bool) {
	ind, ok := r.indicators[name]
	return ind, ok
}

// normalizeIndex converts a Python-style negative index into a 0-based
// forward index into a slice of length n, reporting false if out of range.
func normalizeIndex(n, index int) (int, bool) {
	i := index
	if i < 0 {
		i = n + i
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
