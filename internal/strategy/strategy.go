package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"derivbot/internal/command"
	"derivbot/internal/config"
	"derivbot/internal/state"
	"derivbot/pkg/types"
)

// bookTickerStream is the stream name ExchangeState keys best-bid/ask
// updates under; it is the only book stream the strategy runtime reads.
const bookTickerStream = "bookTicker"

// Strategy runs one configured StrategyConfig against shared ExchangeState:
// startup reconciliation, signal evaluation, and stop-loss/take-profit/
// trailing-stop lifecycle management (§4.7).
type Strategy struct {
	cfg     config.StrategyConfig
	venue   Venue
	store   Store
	state   *state.ExchangeState
	storage *LocalStorage
	logger  *slog.Logger

	handlers map[types.Symbol]*command.Handler
	account  *types.Account

	busy  map[types.Symbol]bool
	ready bool
}

// New constructs a Strategy. Call Start before feeding it book/trade updates.
func New(cfg config.StrategyConfig, venue Venue, store Store, exchangeState *state.ExchangeState, logger *slog.Logger) *Strategy {
	s := &Strategy{
		cfg:      cfg,
		venue:    venue,
		store:    store,
		state:    exchangeState,
		storage:  NewLocalStorage(),
		logger:   logger.With("component", "strategy", "strategy_id", cfg.ID),
		handlers: make(map[types.Symbol]*command.Handler),
		busy:     make(map[types.Symbol]bool),
	}
	for _, sym := range cfg.Symbols {
		symbol := types.Symbol(sym)
		s.handlers[symbol] = command.New(venue, store, s.storage.ForSymbol(symbol), cfg.ID, logger)
	}
	return s
}

// Ready reports whether Start has completed the full startup sequence.
func (s *Strategy) Ready() bool { return s.ready }

// Handler returns the command handler for symbol, for the orchestrator to
// drive ExecuteBatch across every strategy/symbol pairing.
func (s *Strategy) Handler(symbol types.Symbol) (*command.Handler, bool) {
	h, ok := s.handlers[symbol]
	return h, ok
}

// Start runs the strict startup sequence (§4.7): connect user stream
// (the caller's responsibility — by the time Start runs, the venue's user
// stream must already be subscribed), fetch account, reconcile positions,
// ensure hedge mode, set leverage per symbol, then mark ready.
func (s *Strategy) Start(ctx context.Context) error {
	account, err := s.venue.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("get_account_info: %w", err)
	}
	s.account = account

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	hedge, err := s.venue.IsHedgeMode(ctx)
	if err != nil {
		return fmt.Errorf("is_hedge_mode: %w", err)
	}
	if !hedge {
		if err := s.venue.ChangePositionMode(ctx, true); err != nil {
			return fmt.Errorf("change_position_mode: %w", err)
		}
	}

	for _, sym := range s.cfg.Symbols {
		symbol := types.Symbol(sym)
		if err := s.venue.ChangeLeverage(ctx, symbol, s.cfg.Leverage); err != nil {
			return fmt.Errorf("change_leverage(%s): %w", symbol, err)
		}
	}

	s.ready = true
	s.logger.Info("strategy ready", "symbols", s.cfg.Symbols)
	return nil
}

// OnAccountUpdate patches the cached account snapshot from a user-stream
// account_update event (§6.3).
func (s *Strategy) OnAccountUpdate(position types.AccountPosition) {
	if s.account == nil {
		s.account = &types.Account{}
	}
	s.account.UpsertPosition(position)
}

// OnBookUpdate applies the interleaving rule from §5: when the symbol has
// outgoing commands, the book update drives CommandHandler.Execute (so
// trailing stops react on every tick); only once the queue is empty do
// stop-loss/take-profit checks run against this book.
func (s *Strategy) OnBookUpdate(ctx context.Context, symbol types.Symbol, book types.BookUpdate) {
	ss, ok := s.state.Get(symbol)
	if !ok {
		return
	}
	changed := ss.ApplyBook(bookTickerStream, book)

	handler, ok := s.handlers[symbol]
	if !ok {
		return
	}
	handler.SetPrice(book)

	if handler.HasOutgoingCommands() {
		handler.Execute(ctx)
		return
	}
	if !changed {
		return
	}
	s.checkExits(symbol, book)
}

// OnTrade feeds a trade into ExchangeState's candle rings and, on a closed
// bar, re-evaluates the configured entry conditions.
func (s *Strategy) OnTrade(symbol types.Symbol, trade types.TradeUpdate) {
	ss, ok := s.state.Get(symbol)
	if !ok {
		return
	}
	ticks := ss.ApplyTrade(trade)
	for _, tick := range ticks {
		if tick == types.TickNewCandle || tick == types.TickMissingCandle {
			s.checkSignal(symbol, ss)
			break
		}
	}
}

// checkSignal implements §4.7's signal evaluation: each condition is
// evaluated over its configured timeframe/indicator, grouped by
// (position_side, order_side), and a group whose triggered count reaches
// conditions_trigger_count enters a new position (unless the symbol is
// busy, or one is already open on that side).
func (s *Strategy) checkSignal(symbol types.Symbol, ss *state.SymbolState) {
	if s.busy[symbol] {
		return
	}

	counts := make(map[triggerKey]int)
	for _, cond := range s.cfg.Conditions {
		view, ok := s.state.IndicatorView(ss, types.Timeframe(cond.Timeframe))
		if !ok {
			continue
		}
		if evalCondition(view, cond, s.cfg.SaveSignalCandles) {
			key := triggerKey{
				positionSide: types.PositionSide(cond.PositionSide),
				orderSide:    types.Side(cond.OrderSide),
			}
			counts[key]++
		}
	}

	for key, count := range counts {
		if count < s.cfg.ConditionsTriggerCount {
			continue
		}
		if _, open := s.storage.GetPosition(symbol, key.positionSide); open {
			continue
		}
		s.enterPosition(symbol, ss, key.positionSide, key.orderSide)
	}
}

func (s *Strategy) enterPosition(symbol types.Symbol, ss *state.SymbolState, positionSide types.PositionSide, orderSide types.Side) {
	book, ok := ss.Books[bookTickerStream]
	if !ok || s.account == nil {
		return
	}

	qty, ok := CalcTradeQuantity(ss.Contract, s.account, book, orderSide, s.cfg.Leverage, s.cfg.BalanceStake)
	if !ok {
		s.logger.Debug("calc_trade_quantity refused entry", "symbol", symbol, "side", orderSide)
		return
	}

	placeOrder := types.NewPlaceOrder(types.PlaceOrderCommand{
		Contract:     symbol,
		PositionSide: positionSide,
		OrderSide:    orderSide,
		Quantity:     qty,
	})

	cmd := placeOrder
	if s.cfg.Trailing {
		cmd = types.NewTrailingStop(types.TrailingStopCommand{
			Contract:     symbol,
			Book:         book,
			OrderSide:    orderSide,
			CallbackRate: s.cfg.TrailingCallbackRate,
			NextCommand:  &placeOrder,
		})
	}

	s.handlers[symbol].Append(cmd)
}

// checkExits runs the stop-loss and take-profit rules against the latest
// book for every position open on symbol (§4.7).
func (s *Strategy) checkExits(symbol types.Symbol, book types.BookUpdate) {
	for _, side := range []types.PositionSide{types.PositionLong, types.PositionShort} {
		position, ok := s.storage.GetPosition(symbol, side)
		if !ok {
			continue
		}
		ss, ok := s.state.Get(symbol)
		if !ok {
			continue
		}

		if !s.cfg.StopLoss.Rate.IsZero() && StopLossTriggered(position, book, s.cfg.StopLoss.Rate) {
			s.closePosition(symbol, position, position.Quantity)
			continue
		}

		exitOrders := position.ExitOrderCount(s.orderMap(symbol, position.ID))
		decision, triggered := TakeProfit(position, ss.Contract, book, s.cfg.TakeProfit, exitOrders)
		if triggered {
			s.closePosition(symbol, position, decision.Quantity)
		}
	}
}

// orderMap builds the id->Order lookup Position.ExitOrderCount needs from
// everything LocalStorage has attached to positionID.
func (s *Strategy) orderMap(symbol types.Symbol, positionID string) map[string]types.Order {
	orders := s.storage.GetOrders(symbol, positionID, "")
	out := make(map[string]types.Order, len(orders))
	for _, o := range orders {
		out[o.ID] = o
	}
	return out
}

// closePosition enqueues a market order on the position's exit side for
// quantity — a full close for stop-loss, or one rung of the take-profit
// ladder.
func (s *Strategy) closePosition(symbol types.Symbol, position types.Position, quantity decimal.Decimal) {
	if !quantity.IsPositive() {
		return
	}
	cmd := types.NewPlaceOrder(types.PlaceOrderCommand{
		Contract:     symbol,
		PositionSide: position.Side,
		OrderSide:    position.Side.ExitSide(),
		Quantity:     quantity,
	})
	s.handlers[symbol].Append(cmd)
}
