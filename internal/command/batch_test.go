package command

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

// sharedFakeStorage mimics strategy.LocalStorage: one instance shared
// across every symbol's Handler, guarded by its own mutex and partitioned
// by symbol key, the way the real LocalStorage is after being shared
// across ExecuteBatch's concurrent per-symbol goroutines.
type sharedFakeStorage struct {
	mu        sync.Mutex
	positions map[string]map[types.PositionSide]types.Position
	orders    map[string]map[string]types.Order
}

func newSharedFakeStorage() *sharedFakeStorage {
	return &sharedFakeStorage{
		positions: make(map[string]map[types.PositionSide]types.Position),
		orders:    make(map[string]map[string]types.Order),
	}
}

// forSymbol returns a command.Storage-shaped view scoped to key, the test
// analogue of strategy.LocalStorage.ForSymbol.
func (f *sharedFakeStorage) forSymbol(key string) *symbolFakeStorage {
	return &symbolFakeStorage{key: key, backing: f}
}

type symbolFakeStorage struct {
	key     string
	backing *sharedFakeStorage
}

func (s *symbolFakeStorage) GetPosition(side types.PositionSide) (types.Position, bool) {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[s.key][side]
	return p, ok
}

func (s *symbolFakeStorage) SetPosition(position types.Position) {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	bySide, ok := f.positions[s.key]
	if !ok {
		bySide = make(map[types.PositionSide]types.Position)
		f.positions[s.key] = bySide
	}
	bySide[position.Side] = position
}

func (s *symbolFakeStorage) GetOrders(positionID string, side types.Side) []types.Order {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Order
	for _, o := range f.orders[s.key] {
		if o.PositionID == positionID && o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func (s *symbolFakeStorage) AddOrder(order types.Order) {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	byID, ok := f.orders[s.key]
	if !ok {
		byID = make(map[string]types.Order)
		f.orders[s.key] = byID
	}
	byID[order.ID] = order
}

func (s *symbolFakeStorage) DropPosition(side types.PositionSide) {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions[s.key], side)
}

func (s *symbolFakeStorage) DropOrders(positionID string) {
	f := s.backing
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, o := range f.orders[s.key] {
		if o.PositionID == positionID {
			delete(f.orders[s.key], id)
		}
	}
}

// slowVenue pads PlaceOrder with a short sleep so concurrently-executing
// handlers overlap instead of finishing before the next one starts.
type slowVenue struct {
	fakeVenue
}

func (v *slowVenue) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.Order, error) {
	time.Sleep(time.Millisecond)
	return v.fakeVenue.PlaceOrder(ctx, req)
}

// TestExecuteBatchConcurrentHandlersShareStorageSafely runs more than
// batchSize handlers through ExecuteBatch concurrently, all backed by one
// shared Storage (as every symbol of a Strategy is), and checks every
// handler's PlaceOrder reaches a recorded position — run with -race to
// confirm ExecuteBatch's per-handler goroutines don't race on shared state.
func TestExecuteBatchConcurrentHandlersShareStorageSafely(t *testing.T) {
	storage := newSharedFakeStorage()
	store := newFakeStore()

	const n = batchSize*2 + 3
	handlers := make([]*Handler, n)
	for i := 0; i < n; i++ {
		symbol := types.Symbol(ulidGen())
		order := &types.Order{
			ID: ulidGen(), Symbol: symbol, Side: types.BUY, PositionSide: types.PositionLong,
			Status: types.OrderFilled, Quantity: decimal.NewFromInt(1),
		}
		venue := &slowVenue{fakeVenue{placeOrderResult: order}}
		h := New(venue, store, storage.forSymbol(string(symbol)), "test-strategy", slog.Default())
		h.Append(types.NewPlaceOrder(types.PlaceOrderCommand{
			Contract: symbol, PositionSide: types.PositionLong, OrderSide: types.BUY,
			Quantity: decimal.NewFromInt(1),
		}))
		handlers[i] = h
	}

	if err := ExecuteBatch(context.Background(), handlers); err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}

	for i, h := range handlers {
		if h.Len() != 0 {
			t.Errorf("handler %d: Len() = %d, want 0 after Execute", i, h.Len())
		}
	}
	if got := len(store.orders); got != n {
		t.Errorf("store recorded %d orders, want %d", got, n)
	}
}

// TestExecuteBatchRespectsContextCancellation stops early when ctx is
// cancelled between batches rather than running every handler.
func TestExecuteBatchRespectsContextCancellation(t *testing.T) {
	storage := newFakeStorage()
	store := newFakeStore()

	handlers := make([]*Handler, batchSize+1)
	for i := range handlers {
		h := New(&fakeVenue{}, store, storage, "test-strategy", slog.Default())
		handlers[i] = h
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ExecuteBatch(ctx, handlers)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
