package strategy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"derivbot/internal/command"
	"derivbot/internal/config"
	"derivbot/internal/indicator"
	"derivbot/internal/state"
	"derivbot/pkg/types"
)

type fakeVenue struct {
	account        *types.Account
	hedge          bool
	positions      []types.AccountPosition
	placeOrderCall int
	placeResult    *types.Order
	leverageCalls  map[types.Symbol]int
	hedgeSet       bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		account:       &types.Account{Assets: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(10000)}},
		leverageCalls: make(map[types.Symbol]int),
	}
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req command.PlaceOrderRequest) (*types.Order, error) {
	f.placeOrderCall++
	return f.placeResult, nil
}

func (f *fakeVenue) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (*types.Order, error) {
	return f.placeResult, nil
}

func (f *fakeVenue) GetAccountInfo(ctx context.Context) (*types.Account, error) { return f.account, nil }
func (f *fakeVenue) IsHedgeMode(ctx context.Context) (bool, error)              { return f.hedge, nil }
func (f *fakeVenue) ChangePositionMode(ctx context.Context, hedge bool) error {
	f.hedgeSet = hedge
	return nil
}
func (f *fakeVenue) ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error {
	f.leverageCalls[symbol]++
	return nil
}
func (f *fakeVenue) GetPositions(ctx context.Context) ([]types.AccountPosition, error) {
	return f.positions, nil
}

type fakeStore struct {
	openPositions []types.Position
	orders        []types.Order
	created       map[string]types.Order
	positions     map[string]types.Position
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: make(map[string]types.Order), positions: make(map[string]types.Position)}
}

func (f *fakeStore) CountOrders(ctx context.Context, id string) (int64, error) {
	if _, ok := f.created[id]; ok {
		return 1, nil
	}
	return 0, nil
}
func (f *fakeStore) CreateOrder(ctx context.Context, order types.Order) error {
	f.created[order.ID] = order
	return nil
}
func (f *fakeStore) CreatePosition(ctx context.Context, position types.Position) error {
	f.positions[position.ID] = position
	return nil
}
func (f *fakeStore) UpdatePosition(ctx context.Context, position types.Position) error {
	f.positions[position.ID] = position
	return nil
}
func (f *fakeStore) FindOpenPositions(ctx context.Context, strategyID string, symbols []types.Symbol) ([]types.Position, error) {
	return f.openPositions, nil
}
func (f *fakeStore) FindOrders(ctx context.Context, ids []string) ([]types.Order, error) {
	return f.orders, nil
}

func testExchangeState() *state.ExchangeState {
	reg := indicator.NewRegistry(indicator.SMA{DefaultPeriod: 2})
	s := state.New(100, 100, []types.Timeframe{types.Timeframe1m}, reg, slog.Default())
	s.Preload("BTCUSDT", types.Contract{
		Symbol: "BTCUSDT", QuoteAsset: "USDT",
		LotSize: decimal.NewFromFloat(0.001), MinNotional: decimal.NewFromInt(5),
	})
	return s
}

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ID: "strat-1", Symbols: []string{"BTCUSDT"}, Leverage: 5,
		BalanceStake:           decimal.NewFromFloat(0.1),
		StopLoss:               config.StopLossConfig{Rate: decimal.NewFromFloat(0.05)},
		ConditionsTriggerCount: 1,
		SaveSignalCandles:      1,
	}
}

func TestStartRunsStrictSequence(t *testing.T) {
	venue := newFakeVenue()
	s := New(testStrategyConfig(), venue, newFakeStore(), testExchangeState(), slog.Default())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.Ready() {
		t.Fatal("expected Strategy to be ready after Start")
	}
	if !venue.hedgeSet {
		t.Error("expected ChangePositionMode(true) since the fake venue starts in one-way mode")
	}
	if venue.leverageCalls["BTCUSDT"] != 1 {
		t.Errorf("expected exactly one change_leverage call for BTCUSDT, got %d", venue.leverageCalls["BTCUSDT"])
	}
}

func TestStartMarksSymbolBusyOnReconciliationMismatch(t *testing.T) {
	venue := newFakeVenue()
	venue.positions = []types.AccountPosition{
		{Symbol: "BTCUSDT", Side: types.PositionLong, Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)},
	}
	store := newFakeStore() // no matching stored position -> mismatch

	s := New(testStrategyConfig(), venue, store, testExchangeState(), slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.busy["BTCUSDT"] {
		t.Fatal("expected BTCUSDT to be marked busy when stored positions disagree with the venue")
	}
}

func TestCheckSignalEntersPositionWhenConditionsMet(t *testing.T) {
	venue := newFakeVenue()
	venue.placeResult = &types.Order{
		ID: "o1", Symbol: "BTCUSDT", Status: types.OrderFilled, Side: types.BUY,
		PositionSide: types.PositionLong, Quantity: decimal.NewFromFloat(0.01), EntryPrice: decimal.NewFromInt(100),
	}
	cfg := testStrategyConfig()
	cfg.Conditions = []config.StrategyCondition{
		{PositionSide: "LONG", OrderSide: "BUY", Indicator: "sma", Timeframe: "1m", Field: "sma", Op: "gt", Value: 0},
	}
	es := testExchangeState()
	s := New(cfg, venue, newFakeStore(), es, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ss, _ := es.Get("BTCUSDT")
	ss.Books[bookTickerStream] = types.BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}

	base := int64(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		s.OnTrade("BTCUSDT", types.TradeUpdate{
			Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
			Timestamp: base + int64(i)*60_000,
		})
	}

	handler, _ := s.Handler("BTCUSDT")
	if handler.Len() == 0 {
		t.Fatal("expected a PlaceOrder command to have been enqueued once the SMA condition was met")
	}
}

func TestCheckExitsClosesOnStopLoss(t *testing.T) {
	venue := newFakeVenue()
	venue.placeResult = &types.Order{
		ID: "exit-1", Symbol: "BTCUSDT", Status: types.OrderFilled, Side: types.SELL,
		PositionSide: types.PositionLong, Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromInt(19000),
	}
	es := testExchangeState()
	s := New(testStrategyConfig(), venue, newFakeStore(), es, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.storage.SetPosition("BTCUSDT", types.Position{
		ID: "p1", Symbol: "BTCUSDT", Side: types.PositionLong, Status: types.PositionOpen,
		Quantity: decimal.NewFromInt(1), TotalQuantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(20000),
	})

	s.OnBookUpdate(context.Background(), "BTCUSDT", types.BookUpdate{Bid: decimal.NewFromInt(19000), Ask: decimal.NewFromInt(19001)})

	handler, _ := s.Handler("BTCUSDT")
	handler.Execute(context.Background())

	if venue.placeOrderCall != 1 {
		t.Fatalf("expected stop-loss to place exactly one order, got %d", venue.placeOrderCall)
	}
}
