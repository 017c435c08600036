// Package orchestrator wires the bus (or a replayed log) into ExchangeState
// and drives every configured Strategy's command queues: the process that
// actually watches the market and trades it (§2).
//
// Generalized from the teacher's engine.Engine (per-market maker slot,
// dispatch loops, WS feed routing) to "per-strategy instance driven by
// shared ExchangeState" — there is one ExchangeState per process, not one
// per market, and strategies read from it rather than each owning a book.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"derivbot/internal/busclient"
	"derivbot/internal/command"
	"derivbot/internal/config"
	"derivbot/internal/exchange"
	"derivbot/internal/indicator"
	"derivbot/internal/replay"
	"derivbot/internal/state"
	"derivbot/internal/store"
	"derivbot/internal/strategy"
	"derivbot/pkg/types"
)

// executeInterval bounds how often ExecuteBatch drains every strategy's
// command queue on a fixed tick, independent of book/trade activity —
// a trailing stop or a fill still waiting on get_order needs to progress
// even on an otherwise quiet symbol.
const executeInterval = time.Second

// candleBackfillTimeout bounds each symbol/timeframe's historical-candle
// REST call during bootstrap and after a bus reset.
const candleBackfillTimeout = 10 * time.Second

// session is one configured strategy's venue wiring: its own REST client,
// listen key and user stream, layered on the shared ExchangeState/Store.
type session struct {
	cfg      config.StrategyConfig
	strategy *strategy.Strategy
	client   *exchange.Client
	userFeed *exchange.UserFeed
}

func (s *session) symbols() []types.Symbol {
	out := make([]types.Symbol, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		out[i] = types.Symbol(sym)
	}
	return out
}

// Orchestrator owns ExchangeState, every configured Strategy, and the
// single event loop that feeds bus/replay updates and a fixed execute tick
// into them (§5).
type Orchestrator struct {
	cfg      config.Config
	store    *store.Store
	public   *exchange.Client
	state    *state.ExchangeState
	sessions []*session
	bySymbol map[types.Symbol][]*session
	logger   *slog.Logger

	lastAlive time.Time
}

// New constructs an Orchestrator. Call Bootstrap then Run.
func New(cfg config.Config, st *store.Store, logger *slog.Logger) *Orchestrator {
	registry := indicator.NewRegistry(indicator.SMA{}, indicator.RSI{})
	timeframes := collectTimeframes(cfg.Strategies)

	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		public:   exchange.NewClient(cfg.BinanceTestnet, exchange.NewAuth(exchange.Credentials{}), logger),
		state:    state.New(cfg.CandlesLimit, cfg.DepthLimit, timeframes, registry, logger),
		bySymbol: make(map[types.Symbol][]*session),
		logger:   logger.With("component", "orchestrator"),
	}

	for _, scfg := range cfg.Strategies {
		auth := exchange.NewAuth(exchange.Credentials{APIKey: scfg.APIKey, APISecret: scfg.APISecret})
		client := exchange.NewClient(cfg.BinanceTestnet, auth, logger)
		sess := &session{
			cfg:      scfg,
			client:   client,
			strategy: strategy.New(scfg, client, st, o.state, logger),
		}
		o.sessions = append(o.sessions, sess)
		for _, sym := range sess.symbols() {
			o.bySymbol[sym] = append(o.bySymbol[sym], sess)
		}
	}

	return o
}

// collectTimeframes returns the deduplicated union of every condition's
// timeframe across every configured strategy — the set of candle rings
// ExchangeState must maintain per symbol.
func collectTimeframes(strategies []config.StrategyConfig) []types.Timeframe {
	seen := make(map[types.Timeframe]bool)
	var out []types.Timeframe
	for _, s := range strategies {
		for _, c := range s.Conditions {
			tf := types.Timeframe(c.Timeframe)
			if !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	return out
}

// allSymbols returns every symbol tracked by any configured strategy.
func (o *Orchestrator) allSymbols() []types.Symbol {
	out := make([]types.Symbol, 0, len(o.bySymbol))
	for sym := range o.bySymbol {
		out = append(out, sym)
	}
	return out
}

// Bootstrap fetches contracts, historical candles and a depth snapshot for
// every tracked symbol, preloads ExchangeState, then runs each strategy's
// startup sequence (§4.7, §4.8). It must complete before Run.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if err := o.loadMarketData(ctx); err != nil {
		return err
	}
	for _, sess := range o.sessions {
		if err := sess.strategy.Start(ctx); err != nil {
			return fmt.Errorf("strategy %s start: %w", sess.cfg.ID, err)
		}

		key, err := exchange.NewListenKeySession(sess.client, o.logger).Start(ctx)
		if err != nil {
			return fmt.Errorf("strategy %s listen key: %w", sess.cfg.ID, err)
		}
		sess.userFeed = exchange.NewUserFeed(exchange.WSBaseURL(o.cfg.BinanceTestnet), key, o.logger)
	}
	return nil
}

// loadMarketData fetches contracts/candles/depth for every tracked symbol
// and (re)preloads ExchangeState from scratch. Used at startup and again on
// a bus reset (§3: "the first message observed after a bus reset is always
// processed after ExchangeState has been re-preloaded").
func (o *Orchestrator) loadMarketData(ctx context.Context) error {
	contracts, err := o.public.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("get_contracts: %w", err)
	}

	for _, sym := range o.allSymbols() {
		contract, ok := contracts[sym]
		if !ok {
			return fmt.Errorf("symbol %s not found in exchange contracts", sym)
		}
		ss := o.state.Preload(sym, contract)
		ss.Depth.AddGapCallback(func(symbol types.Symbol) func() {
			return func() { o.resyncDepth(symbol) }
		}(sym))

		backfillCtx, cancel := context.WithTimeout(ctx, candleBackfillTimeout)
		for tf, agg := range ss.Candles {
			candles, err := o.public.GetHistoricalCandles(backfillCtx, sym, tf, o.cfg.CandlesLimit, 0)
			if err != nil {
				cancel()
				return fmt.Errorf("get_historical_candles(%s,%s): %w", sym, tf, err)
			}
			agg.SetSnapshot(candles)
		}
		cancel()

		snapshot, err := o.public.GetDepth(ctx, sym, o.cfg.DepthLimit)
		if err != nil {
			return fmt.Errorf("get_depth(%s): %w", sym, err)
		}
		ss.Depth.SetSnapshot(snapshot)
	}
	return nil
}

// resyncDepth re-fetches a fresh depth snapshot after Book reports a
// sequence gap (§4.5). Book.Update invokes gap callbacks synchronously, so
// this REST call runs on the orchestrator's event loop and blocks it for at
// most candleBackfillTimeout.
func (o *Orchestrator) resyncDepth(symbol types.Symbol) {
	ctx, cancel := context.WithTimeout(context.Background(), candleBackfillTimeout)
	defer cancel()

	snapshot, err := o.public.GetDepth(ctx, symbol, o.cfg.DepthLimit)
	if err != nil {
		o.logger.Error("depth resync failed", "symbol", symbol, "error", err)
		return
	}
	if ss, ok := o.state.Get(symbol); ok {
		ss.Depth.SetSnapshot(snapshot)
	}
}

// Run drives the single event loop: bus (or replay) updates, the fixed
// execute tick, and every session's user stream. Blocks until ctx is
// cancelled or a feed returns a terminal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	events := make(chan busEvent, 256)
	accounts := make(chan accountEvent, 64)
	orders := make(chan orderEvent, 64)
	errCh := make(chan error, 1)

	go o.runFeed(ctx, events, errCh)

	for i, sess := range o.sessions {
		go o.runUserFeed(ctx, i, sess, accounts, orders)
	}

	ticker := time.NewTicker(executeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case evt := <-events:
			o.handleBusMessage(ctx, evt.routingKey, evt.msg)
		case acc := <-accounts:
			o.sessions[acc.sessionIdx].strategy.OnAccountUpdate(acc.position)
		case ord := <-orders:
			o.handleOrderUpdate(ctx, o.sessions[ord.sessionIdx], ord.order)
		case <-ticker.C:
			o.executeAll(ctx)
		}
	}
}

// runFeed drives either the live bus subscriber or, in replay mode, the
// replay player, forwarding both into the same events channel so handleBusMessage
// is the single convergence point for applied updates (§2, §6.4).
func (o *Orchestrator) runFeed(ctx context.Context, events chan<- busEvent, errCh chan<- error) {
	if o.cfg.Replay.Enabled {
		player := replay.NewPlayer(o.store, o.allSymbols(), o.cfg.Replay.Speed, o.cfg.Replay.From, o.cfg.Replay.To, o.logger)
		errCh <- player.Run(ctx, func(symbol types.Symbol, entity types.Entity, payload []byte) {
			envelope, err := json.Marshal(struct {
				Entity types.Entity    `json:"entity"`
				Symbol types.Symbol    `json:"symbol"`
				Data   json.RawMessage `json:"data"`
			}{Entity: entity, Symbol: symbol, Data: payload})
			if err != nil {
				o.logger.Warn("malformed replayed update", "symbol", symbol, "error", err)
				return
			}
			events <- busEvent{routingKey: string(symbol) + "." + string(entity), msg: busclient.Message{Action: "update", Payload: envelope}}
		})
		return
	}

	sub := busclient.NewSubscriber(o.cfg.BrokerAMQPURI, o.routingKeys(), o.logger)
	errCh <- sub.Run(ctx, func(routingKey string, msg busclient.Message) {
		events <- busEvent{routingKey: routingKey, msg: msg}
	}, func() {
		events <- busEvent{routingKey: "reset", msg: busclient.Message{Action: "reset"}}
	})
}

// routingKeys binds the bus subscriber to "alive", "reset", and one
// "{symbol}.{entity}" key per tracked symbol/entity pair (§6.1).
func (o *Orchestrator) routingKeys() []string {
	keys := []string{"alive", "reset"}
	for _, sym := range o.allSymbols() {
		for _, entity := range []types.Entity{types.EntityTrade, types.EntityBook, types.EntityDepth} {
			keys = append(keys, string(sym)+"."+string(entity))
		}
	}
	return keys
}

type busEvent struct {
	routingKey string
	msg        busclient.Message
}

type accountEvent struct {
	sessionIdx int
	position   types.AccountPosition
}

type orderEvent struct {
	sessionIdx int
	order      types.Order
}

func (o *Orchestrator) runUserFeed(ctx context.Context, idx int, sess *session, accounts chan<- accountEvent, orders chan<- orderEvent) {
	go func() {
		if err := sess.userFeed.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("user feed error", "strategy", sess.cfg.ID, "error", err)
		}
	}()

	accountCh := sess.userFeed.AccountUpdates()
	orderCh := sess.userFeed.OrderUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-accountCh:
			if !ok {
				return
			}
			accounts <- accountEvent{sessionIdx: idx, position: pos}
		case ord, ok := <-orderCh:
			if !ok {
				return
			}
			orders <- orderEvent{sessionIdx: idx, order: ord}
		}
	}
}

// handleBusMessage dispatches one live-bus delivery: "reset" reloads every
// tracked symbol's market data from REST before any further message is
// processed, "alive" only updates the liveness timestamp the status endpoint
// reports, and anything else is a "{symbol}.{entity}" envelope. A
// synthetic "reset" is also injected by runFeed's subscriber whenever the
// bus connection itself reconnects, since a dropped connection can miss
// deliveries the same way an upstream reset can.
func (o *Orchestrator) handleBusMessage(ctx context.Context, routingKey string, msg busclient.Message) {
	switch routingKey {
	case "reset":
		o.logger.Warn("bus reset received, reloading market data")
		if err := o.loadMarketData(ctx); err != nil {
			o.logger.Error("reload after reset failed", "error", err)
		}
		return
	case "alive":
		o.lastAlive = time.Now()
		return
	}

	var envelope struct {
		Entity types.Entity    `json:"entity"`
		Symbol types.Symbol    `json:"symbol"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		o.logger.Warn("malformed market update envelope", "routing_key", routingKey, "error", err)
		return
	}
	o.applyUpdate(ctx, envelope.Symbol, envelope.Entity, envelope.Data)
}

// applyUpdate feeds one decoded market update into ExchangeState's depth
// book and every strategy tracking symbol — the single convergence point
// for both the live bus and replay mode.
func (o *Orchestrator) applyUpdate(ctx context.Context, symbol types.Symbol, entity types.Entity, data []byte) {
	ss, ok := o.state.Get(symbol)
	if !ok {
		return
	}

	switch entity {
	case types.EntityBook:
		var book types.BookUpdate
		if err := json.Unmarshal(data, &book); err != nil {
			o.logger.Warn("malformed book update", "symbol", symbol, "error", err)
			return
		}
		for _, sess := range o.bySymbol[symbol] {
			sess.strategy.OnBookUpdate(ctx, symbol, book)
		}

	case types.EntityTrade:
		var trade types.TradeUpdate
		if err := json.Unmarshal(data, &trade); err != nil {
			o.logger.Warn("malformed trade update", "symbol", symbol, "error", err)
			return
		}
		for _, sess := range o.bySymbol[symbol] {
			sess.strategy.OnTrade(symbol, trade)
		}

	case types.EntityDepth:
		var diff types.DepthUpdate
		if err := json.Unmarshal(data, &diff); err != nil {
			o.logger.Warn("malformed depth update", "symbol", symbol, "error", err)
			return
		}
		ss.Depth.Update(diff)
	}
}

// handleOrderUpdate routes a user-stream fill/terminal-state notification to
// the strategy's command handler for the order's symbol (§4.6's UpdateOrder
// entry point for fills that arrive out of band from a PlaceOrder command
// this process issued itself).
func (o *Orchestrator) handleOrderUpdate(ctx context.Context, sess *session, order types.Order) {
	handler, ok := sess.strategy.Handler(order.Symbol)
	if !ok {
		return
	}
	handler.UpdateOrder(ctx, order)
}

// executeAll drains every session/symbol's command queue in batches (§4.6).
func (o *Orchestrator) executeAll(ctx context.Context) {
	var handlers []*command.Handler
	for _, sess := range o.sessions {
		for _, sym := range sess.symbols() {
			if h, ok := sess.strategy.Handler(sym); ok {
				handlers = append(handlers, h)
			}
		}
	}
	if err := command.ExecuteBatch(ctx, handlers); err != nil {
		o.logger.Warn("execute batch interrupted", "error", err)
	}
}
