package command

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

type fakeVenue struct {
	placeOrderResult *types.Order
	placeOrderErr    error
	getOrderResult   *types.Order
	placeOrderCalls  int
	getOrderCalls    int
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.Order, error) {
	f.placeOrderCalls++
	return f.placeOrderResult, f.placeOrderErr
}

func (f *fakeVenue) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (*types.Order, error) {
	f.getOrderCalls++
	return f.getOrderResult, nil
}

// fakeStore is shared by every handler in the batch tests, so its maps are
// guarded the way the real document store is safe for concurrent callers.
type fakeStore struct {
	mu        sync.Mutex
	orders    map[string]types.Order
	positions map[string]types.Position
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]types.Order), positions: make(map[string]types.Position)}
}

func (f *fakeStore) CountOrders(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[id]; ok {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeStore) CreateOrder(ctx context.Context, order types.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) CreatePosition(ctx context.Context, position types.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[position.ID] = position
	return nil
}

func (f *fakeStore) UpdatePosition(ctx context.Context, position types.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[position.ID] = position
	return nil
}

type fakeStorage struct {
	positions map[types.PositionSide]types.Position
	orders    map[string][]types.Order // positionID -> orders
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{positions: make(map[types.PositionSide]types.Position), orders: make(map[string][]types.Order)}
}

func (f *fakeStorage) GetPosition(side types.PositionSide) (types.Position, bool) {
	p, ok := f.positions[side]
	return p, ok
}

func (f *fakeStorage) SetPosition(position types.Position) { f.positions[position.Side] = position }

func (f *fakeStorage) GetOrders(positionID string, side types.Side) []types.Order {
	var out []types.Order
	for _, o := range f.orders[positionID] {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeStorage) AddOrder(order types.Order) {
	f.orders[order.PositionID] = append(f.orders[order.PositionID], order)
}

func (f *fakeStorage) DropPosition(side types.PositionSide) { delete(f.positions, side) }
func (f *fakeStorage) DropOrders(positionID string)         { delete(f.orders, positionID) }

func newHandler(venue Venue, store Store, storage Storage) *Handler {
	return New(venue, store, storage, "test-strategy", slog.Default())
}

func TestAppendDedupesStructurallyIdenticalCommands(t *testing.T) {
	h := newHandler(&fakeVenue{}, newFakeStore(), newFakeStorage())
	cmd := types.NewPlaceOrder(types.PlaceOrderCommand{
		Contract: "BTCUSDT", PositionSide: types.PositionLong, OrderSide: types.BUY,
		Quantity: decimal.NewFromFloat(0.01),
	})
	h.Append(cmd)
	h.Append(cmd)
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (duplicate should be dropped)", h.Len())
	}
}

func TestHandlePlaceOrderCreatesPositionAndRecordsFill(t *testing.T) {
	venue := &fakeVenue{
		placeOrderResult: &types.Order{
			ID: "order-1", ClientOrderID: "whatever", Symbol: "BTCUSDT",
			Status: types.OrderFilled, Side: types.BUY, PositionSide: types.PositionLong,
			Quantity: decimal.NewFromFloat(0.01), EntryPrice: decimal.NewFromInt(100),
		},
	}
	store := newFakeStore()
	storage := newFakeStorage()
	h := newHandler(venue, store, storage, )

	h.Append(types.NewPlaceOrder(types.PlaceOrderCommand{
		Contract: "BTCUSDT", PositionSide: types.PositionLong, OrderSide: types.BUY,
		Quantity: decimal.NewFromFloat(0.01),
	}))

	h.Execute(context.Background())

	if venue.placeOrderCalls != 1 {
		t.Fatalf("expected exactly one place_order call, got %d", venue.placeOrderCalls)
	}
	pos, ok := storage.GetPosition(types.PositionLong)
	if !ok {
		t.Fatal("expected a LONG position to have been created")
	}
	if !pos.Quantity.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("position quantity = %s, want 0.01", pos.Quantity)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("position entry price = %s, want 100", pos.EntryPrice)
	}
	if h.Len() != 0 {
		t.Errorf("Len() after execute = %d, want 0 (PlaceOrder fully consumes)", h.Len())
	}
}

func TestUpdateOrderIsIdempotent(t *testing.T) {
	store := newFakeStore()
	storage := newFakeStorage()
	h := newHandler(&fakeVenue{}, store, storage)

	order := types.Order{
		ID: "order-1", Symbol: "BTCUSDT", Status: types.OrderFilled,
		Side: types.BUY, PositionSide: types.PositionLong,
		Quantity: decimal.NewFromFloat(0.01), EntryPrice: decimal.NewFromInt(100),
	}
	h.UpdateOrder(context.Background(), order)
	if _, ok := storage.GetPosition(types.PositionLong); !ok {
		t.Fatal("first update_order should create a position")
	}

	// Simulate the order already existing in the store: a repeat update_order
	// call (e.g. a duplicate user-stream event) must be a no-op.
	store.orders["order-1"] = order
	storage.DropPosition(types.PositionLong)
	h.UpdateOrder(context.Background(), order)
	if _, ok := storage.GetPosition(types.PositionLong); ok {
		t.Fatal("update_order should not recreate a position for an already-recorded order")
	}
}

func TestPositionClosesWhenExitQuantityMatchesEntry(t *testing.T) {
	store := newFakeStore()
	storage := newFakeStorage()
	h := newHandler(&fakeVenue{}, store, storage)

	entry := types.Order{
		ID: "e1", Symbol: "BTCUSDT", Status: types.OrderFilled,
		Side: types.BUY, PositionSide: types.PositionLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromInt(100),
	}
	h.UpdateOrder(context.Background(), entry)
	pos, _ := storage.GetPosition(types.PositionLong)

	exit := types.Order{
		ID: "e2", Symbol: "BTCUSDT", Status: types.OrderFilled,
		Side: types.SELL, PositionSide: types.PositionLong, PositionID: pos.ID,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromInt(110),
	}
	h.UpdateOrder(context.Background(), exit)

	if _, ok := storage.GetPosition(types.PositionLong); ok {
		t.Fatal("position should have been dropped from local storage once closed")
	}
	closed, ok := store.positions[pos.ID]
	if !ok {
		t.Fatal("expected the closed position to still be durable in the store")
	}
	if closed.Status != types.PositionClosed {
		t.Errorf("position status = %s, want CLOSED", closed.Status)
	}
	if !closed.Quantity.IsZero() {
		t.Errorf("closed position quantity = %s, want 0", closed.Quantity)
	}
}

func TestTrailingStopRearmsUntilTriggered(t *testing.T) {
	h := newHandler(&fakeVenue{}, newFakeStore(), newFakeStorage())
	h.Append(types.NewTrailingStop(types.TrailingStopCommand{
		OrderSide:    types.BUY,
		CallbackRate: decimal.NewFromFloat(0.01),
		Book:         types.BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)},
		NextCommand: func() *types.Command {
			c := types.NewNotify(types.NotifyCommand{Message: "triggered"})
			return &c
		}(),
	}))

	h.SetPrice(types.BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)})
	h.Execute(context.Background())
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (trailing stop should re-arm, not trigger, on an unchanged book)", h.Len())
	}
}
