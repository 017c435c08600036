// Package strategy implements the Strategy runtime (§4.7): startup
// reconciliation, signal evaluation against configured conditions,
// calc_trade_quantity, and stop-loss/take-profit lifecycle management on
// top of per-symbol position/order bookkeeping.
package strategy

import (
	"sync"

	"derivbot/pkg/types"
)

// LocalStorage is the in-memory cache of OPEN positions and their attached
// orders, keyed by symbol. It exclusively owns this state (§3's ownership
// rule) but is never authoritative: the durable store is, and LocalStorage
// is rebuilt from it (and the venue) during reconciliation (§4.8).
//
// A single LocalStorage is shared across every symbol a Strategy handles,
// and command.ExecuteBatch runs one goroutine per symbol's Handler
// concurrently — so unlike ExchangeState and Handler, which are each
// touched by only one goroutine at a time, LocalStorage's maps need their
// own lock rather than relying on single-owner access.
type LocalStorage struct {
	mu        sync.Mutex
	positions map[types.Symbol]map[types.PositionSide]types.Position
	orders    map[types.Symbol]map[string]types.Order
}

// NewLocalStorage constructs an empty LocalStorage.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		positions: make(map[types.Symbol]map[types.PositionSide]types.Position),
		orders:    make(map[types.Symbol]map[string]types.Order),
	}
}

// SetSnapshot seeds symbol's positions and orders, the result of startup
// reconciliation (§4.8).
func (s *LocalStorage) SetSnapshot(symbol types.Symbol, positions []types.Position, orders []types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.setPosition(symbol, p)
	}
	s.setOrders(symbol, orders)
}

// SetPosition upserts a position under (symbol, position.Side).
func (s *LocalStorage) SetPosition(symbol types.Symbol, position types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPosition(symbol, position)
}

func (s *LocalStorage) setPosition(symbol types.Symbol, position types.Position) {
	bySide, ok := s.positions[symbol]
	if !ok {
		bySide = make(map[types.PositionSide]types.Position)
		s.positions[symbol] = bySide
	}
	bySide[position.Side] = position
}

// DropPosition removes the (symbol, side) position, called once it closes.
func (s *LocalStorage) DropPosition(symbol types.Symbol, side types.PositionSide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions[symbol], side)
}

// GetPosition looks up the open position on (symbol, side).
func (s *LocalStorage) GetPosition(symbol types.Symbol, side types.PositionSide) (types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol][side]
	return p, ok
}

// SetOrders replaces symbol's order index wholesale.
func (s *LocalStorage) SetOrders(symbol types.Symbol, orders []types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOrders(symbol, orders)
}

func (s *LocalStorage) setOrders(symbol types.Symbol, orders []types.Order) {
	byID := make(map[string]types.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	s.orders[symbol] = byID
}

// GetOrder looks up one order by ID within symbol.
func (s *LocalStorage) GetOrder(symbol types.Symbol, orderID string) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[symbol][orderID]
	return o, ok
}

// GetOrders returns symbol's orders attached to positionID, optionally
// filtered to one side.
func (s *LocalStorage) GetOrders(symbol types.Symbol, positionID string, side types.Side) []types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Order
	for _, o := range s.orders[symbol] {
		if o.PositionID != positionID {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		out = append(out, o)
	}
	return out
}

// AddOrder indexes a newly-recorded order under symbol.
func (s *LocalStorage) AddOrder(symbol types.Symbol, order types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.orders[symbol]
	if !ok {
		byID = make(map[string]types.Order)
		s.orders[symbol] = byID
	}
	byID[order.ID] = order
}

// DropOrders removes every order attached to positionID, once it closes.
func (s *LocalStorage) DropOrders(symbol types.Symbol, positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.orders[symbol] {
		if o.PositionID == positionID {
			delete(s.orders[symbol], id)
		}
	}
}

// SymbolView is a symbol-scoped adapter over LocalStorage satisfying
// command.Storage — CommandHandler is per-symbol and has no use for the
// symbol key on every call.
type SymbolView struct {
	symbol  types.Symbol
	storage *LocalStorage
}

// ForSymbol returns a command.Storage-shaped view of s scoped to symbol.
func (s *LocalStorage) ForSymbol(symbol types.Symbol) SymbolView {
	return SymbolView{symbol: symbol, storage: s}
}

func (v SymbolView) GetPosition(side types.PositionSide) (types.Position, bool) {
	return v.storage.GetPosition(v.symbol, side)
}

func (v SymbolView) SetPosition(position types.Position) {
	v.storage.SetPosition(v.symbol, position)
}

func (v SymbolView) GetOrders(positionID string, side types.Side) []types.Order {
	return v.storage.GetOrders(v.symbol, positionID, side)
}

func (v SymbolView) AddOrder(order types.Order) {
	v.storage.AddOrder(v.symbol, order)
}

func (v SymbolView) DropPosition(side types.PositionSide) {
	v.storage.DropPosition(v.symbol, side)
}

func (v SymbolView) DropOrders(positionID string) {
	v.storage.DropOrders(v.symbol, positionID)
}
