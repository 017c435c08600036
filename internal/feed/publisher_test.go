package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

type fakeBus struct {
	mu    sync.Mutex
	calls []publishCall
}

type publishCall struct {
	routingKey, action string
	payload            any
}

func (b *fakeBus) Publish(ctx context.Context, routingKey, action string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, publishCall{routingKey, action, payload})
	return nil
}

func (b *fakeBus) snapshot() []publishCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func newTestFeed() (PublicFeed, chan types.TradeUpdate, chan types.BookUpdate, chan types.DepthUpdate) {
	trades := make(chan types.TradeUpdate, 4)
	books := make(chan types.BookUpdate, 4)
	depths := make(chan types.DepthUpdate, 4)
	feed := PublicFeed{
		Trades: func() <-chan types.TradeUpdate { return trades },
		Books:  func() <-chan types.BookUpdate { return books },
		Depths: func() <-chan types.DepthUpdate { return depths },
		Run: func(ctx context.Context, cb func()) error {
			cb()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	return feed, trades, books, depths
}

func TestPublisherDedupsIdenticalBooks(t *testing.T) {
	t.Parallel()
	feed, _, books, _ := newTestFeed()
	bus := &fakeBus{}
	p := NewPublisher(feed, bus, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	book := types.BookUpdate{Symbol: "BTCUSDT", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	books <- book
	books <- book
	time.Sleep(20 * time.Millisecond)

	calls := bus.snapshot()
	count := 0
	for _, c := range calls {
		if c.routingKey == "BTCUSDT.book" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 book publish for identical updates, got %d", count)
	}
}

func TestPublisherPublishesChangedBooks(t *testing.T) {
	t.Parallel()
	feed, _, books, _ := newTestFeed()
	bus := &fakeBus{}
	p := NewPublisher(feed, bus, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	books <- types.BookUpdate{Symbol: "BTCUSDT", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	books <- types.BookUpdate{Symbol: "BTCUSDT", Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101)}
	time.Sleep(20 * time.Millisecond)

	count := 0
	for _, c := range bus.snapshot() {
		if c.routingKey == "BTCUSDT.book" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 book publishes for differing updates, got %d", count)
	}
}

func TestPublisherDropsStaleEventsAndForcesReset(t *testing.T) {
	t.Parallel()
	feed, trades, _, _ := newTestFeed()
	bus := &fakeBus{}
	p := NewPublisher(feed, bus, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	resetCountBefore := countAction(bus.snapshot(), "reset")

	stale := time.Now().Add(-time.Minute).UnixMilli()
	trades <- types.TradeUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Timestamp: stale}
	time.Sleep(20 * time.Millisecond)

	for _, c := range bus.snapshot() {
		if c.routingKey == "BTCUSDT.trade" {
			t.Fatal("expected the stale trade to be dropped, not published")
		}
	}

	resetCountAfter := countAction(bus.snapshot(), "reset")
	if resetCountAfter <= resetCountBefore {
		t.Error("expected an additional forced reset publish for a >30s-stale event")
	}
}

func countAction(calls []publishCall, action string) int {
	n := 0
	for _, c := range calls {
		if c.action == action {
			n++
		}
	}
	return n
}

func TestPublisherPublishesFreshTrade(t *testing.T) {
	t.Parallel()
	feed, trades, _, _ := newTestFeed()
	bus := &fakeBus{}
	p := NewPublisher(feed, bus, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	trades <- types.TradeUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Timestamp: time.Now().UnixMilli()}
	time.Sleep(20 * time.Millisecond)

	found := false
	for _, c := range bus.snapshot() {
		if c.routingKey == "BTCUSDT.trade" && c.action == "update" {
			found = true
		}
	}
	if !found {
		t.Error("expected a fresh trade to publish on BTCUSDT.trade")
	}
}
