// Package state owns the per-symbol market-data state the orchestrator
// maintains on behalf of every Strategy: contract metadata, the latest
// book per stream, the candle ring per timeframe, and the reconstructed
// depth book (§3's ownership rule, §4.5, §4.3).
//
// ExchangeState is touched only from the orchestrator's single event loop
// (§5), so unlike the teacher's engine.Engine it carries no mutexes: there
// is exactly one goroutine reading and writing it.
package state

import (
	"log/slog"

	"derivbot/internal/candles"
	"derivbot/internal/depth"
	"derivbot/internal/indicator"
	"derivbot/pkg/types"
)

// SymbolState is everything ExchangeState owns for one symbol.
type SymbolState struct {
	Contract types.Contract

	// Books holds the latest BookUpdate per stream name (e.g. "bookTicker").
	Books map[string]types.BookUpdate

	// Candles holds one Aggregator per configured timeframe.
	Candles map[types.Timeframe]*candles.Aggregator

	// Depth is the reconstructed order book.
	Depth *depth.Book
}

// ExchangeState owns Contract/Book/Candles/Depth for every tracked symbol.
type ExchangeState struct {
	candlesLimit int
	depthLimit   int
	timeframes   []types.Timeframe
	registry     *indicator.Registry

	symbols map[types.Symbol]*SymbolState

	logger *slog.Logger
}

// New constructs an empty ExchangeState. Call Preload once per symbol
// before any bus updates are applied.
func New(candlesLimit, depthLimit int, timeframes []types.Timeframe, registry *indicator.Registry, logger *slog.Logger) *ExchangeState {
	return &ExchangeState{
		candlesLimit: candlesLimit,
		depthLimit:   depthLimit,
		timeframes:   timeframes,
		registry:     registry,
		symbols:      make(map[types.Symbol]*SymbolState),
		logger:       logger.With("component", "exchange_state"),
	}
}

// Preload registers a symbol's contract and seeds a fresh candle/depth state
// for it. Called at startup and again for every symbol after a bus reset
// (§3: "the first message observed after a bus reset is always processed
// after ExchangeState has been re-preloaded").
func (s *ExchangeState) Preload(symbol types.Symbol, contract types.Contract) *SymbolState {
	ss := &SymbolState{
		Contract: contract,
		Books:    make(map[string]types.BookUpdate),
		Candles:  make(map[types.Timeframe]*candles.Aggregator),
		Depth:    depth.NewBook(s.depthLimit),
	}
	for _, tf := range s.timeframes {
		ss.Candles[tf] = candles.NewAggregator(tf, s.candlesLimit)
	}
	s.symbols[symbol] = ss
	return ss
}

// Reset drops all in-memory state. The caller is responsible for then
// calling Preload again for every configured symbol from fresh REST data
// (§5's ordering guarantee around bus reset).
func (s *ExchangeState) Reset() {
	s.symbols = make(map[types.Symbol]*SymbolState)
	s.logger.Info("exchange state reset")
}

// Get returns the SymbolState for symbol, if it has been preloaded.
func (s *ExchangeState) Get(symbol types.Symbol) (*SymbolState, bool) {
	ss, ok := s.symbols[symbol]
	return ss, ok
}

// Symbols returns every preloaded symbol.
func (s *ExchangeState) Symbols() []types.Symbol {
	out := make([]types.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// ApplyBook stores the latest (bid, ask) for (symbol, stream) and reports
// whether it changed from the previously stored pair — the publish-side
// dedup key (§4.1); consumers of ExchangeState use the same check to decide
// whether a book-driven re-evaluation is worth doing.
func (ss *SymbolState) ApplyBook(stream string, book types.BookUpdate) bool {
	prev, existed := ss.Books[stream]
	ss.Books[stream] = book
	return !existed || !prev.Equal(book)
}

// ApplyTrade feeds a trade into every configured timeframe's aggregator and
// returns the resulting tick type per timeframe.
func (ss *SymbolState) ApplyTrade(trade types.TradeUpdate) map[types.Timeframe]types.TickType {
	ticks := make(map[types.Timeframe]types.TickType, len(ss.Candles))
	for tf, agg := range ss.Candles {
		ticks[tf] = agg.Update(trade)
	}
	return ticks
}

// IndicatorView returns a lazy indicator projection over one timeframe's
// candle ring, or false if that timeframe isn't configured for this state.
func (s *ExchangeState) IndicatorView(ss *SymbolState, timeframe types.Timeframe) (*candles.IndicatorView, bool) {
	agg, ok := ss.Candles[timeframe]
	if !ok {
		return nil, false
	}
	return candles.NewIndicatorView(agg, s.registry), true
}
