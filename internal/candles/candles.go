// Package candles aggregates trades into OHLCV bars per (symbol, timeframe),
// maintaining a fixed-size ring and filling gaps with flat candles when
// trades stop arriving for a while (§4.3).
package candles

import (
	"time"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

// Aggregator maintains the candle ring for one (symbol, timeframe) pair.
// It is not safe for concurrent use — per the platform's single-event-loop
// model, it is touched only from the owning process's event loop.
type Aggregator struct {
	timeframe    types.Timeframe
	periodMillis int64
	limit        int

	raw []types.Candle
}

// NewAggregator constructs an Aggregator for one timeframe with a bounded
// ring of at most limit candles.
func NewAggregator(timeframe types.Timeframe, limit int) *Aggregator {
	return &Aggregator{
		timeframe:    timeframe,
		periodMillis: timeframe.PeriodMillis(),
		limit:        limit,
	}
}

// Len returns the number of candles currently held.
func (a *Aggregator) Len() int { return len(a.raw) }

// At returns the candle at a Python-style negative or positive index
// (-1 is the most recent candle), or false if out of range.
func (a *Aggregator) At(index int) (types.Candle, bool) {
	i := index
	if i < 0 {
		i = len(a.raw) + i
	}
	if i < 0 || i >= len(a.raw) {
		return types.Candle{}, false
	}
	return a.raw[i], true
}

// Last returns the most recent candle, if any.
func (a *Aggregator) Last() (types.Candle, bool) {
	return a.At(-1)
}

// All returns the full ring, oldest first. Callers must not mutate it.
func (a *Aggregator) All() []types.Candle {
	return a.raw
}

// SetSnapshot replaces the ring with historical candles, trimmed to the
// configured limit and gap-filled between consecutive bars exactly the way
// the live update path does (§4.3).
func (a *Aggregator) SetSnapshot(candlesIn []types.Candle) {
	a.raw = a.raw[:0]
	in := candlesIn
	if len(in) > a.limit {
		in = in[len(in)-a.limit:]
	}

	for i := 0; i < len(in); i++ {
		prev := in[i]
		a.append(prev)

		if i+1 >= len(in) {
			continue
		}
		cur := in[i+1]
		missing := int((cur.Timestamp-prev.Timestamp)/a.periodMillis) - 1
		for n := 1; n <= missing; n++ {
			a.append(flatCandle(prev, prev.Timestamp+a.periodMillis*int64(n)))
		}
	}
}

// Update feeds a single trade into the aggregator and reports what kind of
// tick it produced (§4.3). A nil-equivalent return of TickNone means the
// ring was empty and this trade just seeded the first candle.
func (a *Aggregator) Update(trade types.TradeUpdate) types.TickType {
	last, ok := a.Last()
	if !ok {
		ts := alignBucket(trade.Timestamp)
		a.append(types.Candle{
			Symbol: trade.Symbol, Timeframe: a.timeframe, Timestamp: ts,
			Open: trade.Price, High: trade.Price, Low: trade.Price, Close: trade.Price,
			Volume: decimal.Zero,
		})
		return types.TickNone
	}

	switch {
	case trade.Timestamp < last.Timestamp+a.periodMillis:
		a.updateLast(trade.Price, last.Volume.Add(trade.Quantity))
		return types.TickSameCandle

	case trade.Timestamp >= last.Timestamp+2*a.periodMillis:
		missing := int((trade.Timestamp-last.Timestamp)/a.periodMillis) - 1
		for n := 1; n <= missing; n++ {
			a.append(flatCandle(last, last.Timestamp+a.periodMillis*int64(n)))
		}
		return types.TickMissingCandle

	case trade.Timestamp >= last.Timestamp+a.periodMillis:
		newTS := last.Timestamp + a.periodMillis
		a.append(types.Candle{
			Symbol: trade.Symbol, Timeframe: a.timeframe, Timestamp: newTS,
			Open: trade.Price, High: trade.Price, Low: trade.Price, Close: trade.Price,
			Volume: trade.Quantity,
		})
		return types.TickNewCandle
	}

	return types.TickNone
}

func (a *Aggregator) append(c types.Candle) {
	a.raw = append(a.raw, c)
	if len(a.raw) > a.limit {
		a.raw = a.raw[1:]
	}
}

// updateLast mutates the most recent candle's close/volume in place and
// widens high/low if close breaches either bound (§4.3's `_update`).
func (a *Aggregator) updateLast(close, volume decimal.Decimal) {
	i := len(a.raw) - 1
	a.raw[i].Close = close
	a.raw[i].Volume = volume
	if close.LessThan(a.raw[i].Low) {
		a.raw[i].Low = close
	}
	if close.GreaterThan(a.raw[i].High) {
		a.raw[i].High = close
	}
}

func flatCandle(prev types.Candle, timestamp int64) types.Candle {
	return types.Candle{
		Symbol: prev.Symbol, Timeframe: prev.Timeframe, Timestamp: timestamp,
		Open: prev.Close, High: prev.Close, Low: prev.Close, Close: prev.Close,
		Volume: decimal.Zero,
	}
}

// alignBucket rounds a millisecond timestamp down to the bar boundary used
// to seed the very first candle of a fresh aggregator: the top of the hour,
// or the half-hour if the minute is already ≥30. This mirrors the reference
// implementation's bucket alignment, which is timeframe-agnostic by design —
// the first live trade always seeds against an hour/half-hour boundary and
// subsequent ticks advance by the configured period from there.
func alignBucket(timestampMillis int64) int64 {
	t := time.UnixMilli(timestampMillis).UTC()
	bucket := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	if t.Minute() >= 30 {
		bucket = bucket.Add(30 * time.Minute)
	}
	return bucket.UnixMilli()
}
