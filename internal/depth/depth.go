// Package depth reconstructs a per-symbol order book from a REST snapshot
// plus a stream of sequenced diffs, detecting sequence gaps and requesting
// a resync when one occurs (§4.5).
package depth

import (
	"sort"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

// GapCallback is invoked when Update detects a sequence gap; the consumer
// should re-fetch a fresh snapshot and call SetSnapshot again.
type GapCallback func()

// Book reconstructs one symbol's order book. It is not safe for concurrent
// use — per the platform's single-event-loop model it is touched only from
// the owning process's event loop.
type Book struct {
	limit int

	bids map[string]types.PriceLevel
	asks map[string]types.PriceLevel

	lastUpdateID         int64
	snapshotSet          bool
	firstUpdateProcessed bool

	pending []types.DepthUpdate

	gapCallbacks []GapCallback
}

// NewBook constructs a Book capped at limit price levels per side.
func NewBook(limit int) *Book {
	return &Book{
		limit: limit,
		bids:  make(map[string]types.PriceLevel),
		asks:  make(map[string]types.PriceLevel),
	}
}

// AddGapCallback registers a callback fired when Update detects a sequence
// gap (§4.5).
func (b *Book) AddGapCallback(cb GapCallback) {
	b.gapCallbacks = append(b.gapCallbacks, cb)
}

// SetSnapshot replaces the book with a fresh REST snapshot, then replays any
// diffs queued while waiting for this snapshot (§4.5).
func (b *Book) SetSnapshot(snapshot types.DepthUpdate) {
	b.bids = make(map[string]types.PriceLevel)
	b.asks = make(map[string]types.PriceLevel)

	b.applyLevels(snapshot.Bids, b.bids, true)
	b.applyLevels(snapshot.Asks, b.asks, false)

	b.lastUpdateID = snapshot.LastUpdateID
	b.snapshotSet = true

	pending := b.pending
	b.pending = nil
	for _, u := range pending {
		b.Update(u)
	}
}

// Update applies one sequenced diff, reporting true if it triggered a gap
// (snapshot resync required) (§4.5).
func (b *Book) Update(u types.DepthUpdate) (gap bool) {
	if !b.snapshotSet {
		b.pending = append(b.pending, u)
		return false
	}

	if b.firstUpdateProcessed {
		if u.FirstUpdateID == b.lastUpdateID+1 {
			b.applyLevels(u.Bids, b.bids, true)
			b.applyLevels(u.Asks, b.asks, false)
			b.lastUpdateID = u.LastUpdateID
			return false
		}

		b.lastUpdateID = 0
		b.snapshotSet = false
		b.firstUpdateProcessed = false
		b.bids = make(map[string]types.PriceLevel)
		b.asks = make(map[string]types.PriceLevel)
		for _, cb := range b.gapCallbacks {
			cb()
		}
		return true
	}

	if u.LastUpdateID <= b.lastUpdateID {
		return false
	}

	if b.lastUpdateID == 0 || (u.FirstUpdateID <= b.lastUpdateID+1 && b.lastUpdateID+1 <= u.LastUpdateID) {
		b.applyLevels(u.Bids, b.bids, true)
		b.applyLevels(u.Asks, b.asks, false)
		b.lastUpdateID = u.LastUpdateID
		b.firstUpdateProcessed = true
	}
	return false
}

// applyLevels applies (price, quantity) diffs onto side: zero quantity
// removes a price, nonzero inserts/overwrites; afterward side is capped to
// the limit best prices (highest bids, lowest asks) (§4.5).
func (b *Book) applyLevels(levels []types.PriceLevel, side map[string]types.PriceLevel, isBid bool) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Quantity.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = lvl
	}
	capBestPrices(side, b.limit, isBid)
}

// capBestPrices trims side down to the limit best prices: highest first for
// bids, lowest first for asks.
func capBestPrices(side map[string]types.PriceLevel, limit int, isBid bool) {
	if limit <= 0 || len(side) <= limit {
		return
	}

	levels := make([]types.PriceLevel, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if isBid {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})

	kept := make(map[string]types.PriceLevel, limit)
	for _, lvl := range levels[:limit] {
		kept[lvl.Price.String()] = lvl
	}
	for k := range side {
		delete(side, k)
	}
	for k, v := range kept {
		side[k] = v
	}
}

// Bids returns the current bid levels sorted best (highest) first.
func (b *Book) Bids() []types.PriceLevel {
	return sortedLevels(b.bids, true)
}

// Asks returns the current ask levels sorted best (lowest) first.
func (b *Book) Asks() []types.PriceLevel {
	return sortedLevels(b.asks, false)
}

func sortedLevels(side map[string]types.PriceLevel, desc bool) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	bids := b.Bids()
	if len(bids) == 0 {
		return decimal.Zero, false
	}
	return bids[0].Price, true
}

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	asks := b.Asks()
	if len(asks) == 0 {
		return decimal.Zero, false
	}
	return asks[0].Price, true
}
