// Package feed hosts the two always-running feed processes (§2, §4.1, §4.2):
// Publisher relays the venue's public WebSocket onto the bus, and Logger
// drains the same bus topics into the document store for replay.
package feed

import (
	"context"
	"log/slog"
	"time"

	"derivbot/pkg/types"
)

const (
	aliveInterval  = 30 * time.Second
	skewWarnAfter  = 5 * time.Second
	skewResetAfter = 30 * time.Second
)

// PublicFeed is the subset of exchange.PublicFeed Publisher drives — kept
// narrow so tests can fake it without a real WebSocket.
type PublicFeed struct {
	Trades func() <-chan types.TradeUpdate
	Books  func() <-chan types.BookUpdate
	Depths func() <-chan types.DepthUpdate
	Run    func(ctx context.Context, onReconnect func()) error
}

// BusPublisher is the subset of busclient.Publisher Publisher needs —
// narrowed to an interface so tests can fake the bus without a broker.
type BusPublisher interface {
	Publish(ctx context.Context, routingKey, action string, payload any) error
}

// Publisher normalizes one venue's public stream onto the bus (§4.1):
// reset on every reconnect, book dedup, alive heartbeat, and a local-vs-
// event-time skew check that warns past 5s and forces a reset past 30s.
type Publisher struct {
	feed   PublicFeed
	bus    BusPublisher
	logger *slog.Logger

	lastBook map[types.Symbol]types.BookUpdate
}

// NewPublisher wires a Publisher against an already-constructed feed and bus
// publisher (both started separately by the caller via their own Run).
func NewPublisher(feed PublicFeed, bus BusPublisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		feed:     feed,
		bus:      bus,
		logger:   logger.With("component", "feed_publisher"),
		lastBook: make(map[types.Symbol]types.BookUpdate),
	}
}

// Run drives the feed connection and the bus relay loop until ctx is
// cancelled. Blocks.
func (p *Publisher) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.feed.Run(ctx, p.onReconnect)
	}()

	ticker := time.NewTicker(aliveInterval)
	defer ticker.Stop()

	trades, books, depths := p.feed.Trades(), p.feed.Books(), p.feed.Depths()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := p.bus.Publish(ctx, "alive", "alive", nil); err != nil {
				p.logger.Warn("publish alive failed", "error", err)
			}
		case t := <-trades:
			p.handleTrade(ctx, t)
		case b := <-books:
			p.handleBook(ctx, b)
		case d := <-depths:
			p.handleDepth(ctx, d)
		}
	}
}

// onReconnect publishes `reset` before any further update is relayed (§4.1):
// consumers must re-snapshot, so the dedup cache is cleared first.
func (p *Publisher) onReconnect() {
	p.lastBook = make(map[types.Symbol]types.BookUpdate)
	p.logger.Info("upstream feed (re)connected, publishing reset")
	if err := p.bus.Publish(context.Background(), "reset", "reset", nil); err != nil {
		p.logger.Warn("publish reset failed", "error", err)
	}
}

func (p *Publisher) handleTrade(ctx context.Context, t types.TradeUpdate) {
	if p.checkSkew(t.Symbol, t.Timestamp) {
		return
	}
	p.publish(ctx, routingKey(t.Symbol, types.EntityTrade), types.EntityTrade, t.Symbol, t)
}

func (p *Publisher) handleBook(ctx context.Context, b types.BookUpdate) {
	if prev, ok := p.lastBook[b.Symbol]; ok && prev.Equal(b) {
		return
	}
	p.lastBook[b.Symbol] = b
	p.publish(ctx, routingKey(b.Symbol, types.EntityBook), types.EntityBook, b.Symbol, b)
}

func (p *Publisher) handleDepth(ctx context.Context, d types.DepthUpdate) {
	if p.checkSkew(d.Symbol, d.Timestamp) {
		return
	}
	p.publish(ctx, routingKey(d.Symbol, types.EntityDepth), types.EntityDepth, d.Symbol, d)
}

// checkSkew compares eventMs against wall-clock now: >30s drops the event
// and forces a reset (the event stream has fallen far enough behind that
// derived state can no longer be trusted); >5s only warns.
func (p *Publisher) checkSkew(symbol types.Symbol, eventMs int64) bool {
	if eventMs == 0 {
		return false
	}
	skew := time.Since(time.UnixMilli(eventMs))
	if skew < 0 {
		skew = -skew
	}
	if skew > skewResetAfter {
		p.logger.Warn("local-vs-event-time skew exceeded reset threshold, forcing reset", "symbol", symbol, "skew", skew)
		p.onReconnect()
		return true
	}
	if skew > skewWarnAfter {
		p.logger.Warn("local-vs-event-time skew elevated", "symbol", symbol, "skew", skew)
	}
	return false
}

func (p *Publisher) publish(ctx context.Context, key string, entity types.Entity, symbol types.Symbol, data any) {
	payload := struct {
		Entity types.Entity `json:"entity"`
		Symbol types.Symbol `json:"symbol"`
		Data   any          `json:"data"`
	}{Entity: entity, Symbol: symbol, Data: data}
	if err := p.bus.Publish(ctx, key, "update", payload); err != nil {
		p.logger.Warn("publish failed", "routing_key", key, "error", err)
	}
}

func routingKey(symbol types.Symbol, entity types.Entity) string {
	return string(symbol) + "." + string(entity)
}
