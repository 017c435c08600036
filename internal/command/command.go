// Package command implements the per-symbol outgoing command queue and its
// execution state machine (§4.6): PlaceOrder, TrailingStop and Notify
// commands are deduplicated by structural hash, executed in FIFO order, and
// fed order fills back into position bookkeeping.
package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

// Venue is the subset of the exchange adapter CommandHandler needs: placing
// orders and polling until they reach a terminal state.
type Venue interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.Order, error)
	GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (*types.Order, error)
}

// PlaceOrderRequest is what CommandHandler asks the venue to submit.
type PlaceOrderRequest struct {
	ClientOrderID string
	Contract      types.Symbol
	Type          types.OrderType
	Quantity      decimal.Decimal
	PositionSide  types.PositionSide
	OrderSide     types.Side
}

// Store is the durable persistence CommandHandler needs: order/position
// writes and the idempotency check update_order performs before recording
// a fill twice (§4.6, §6.2).
type Store interface {
	CountOrders(ctx context.Context, id string) (int64, error)
	CreateOrder(ctx context.Context, order types.Order) error
	CreatePosition(ctx context.Context, position types.Position) error
	UpdatePosition(ctx context.Context, position types.Position) error
}

// Storage is the in-memory index CommandHandler consults for the position
// currently open on each side and the orders already attached to it (§4.8's
// LocalStorage, built in internal/strategy).
type Storage interface {
	GetPosition(side types.PositionSide) (types.Position, bool)
	SetPosition(position types.Position)
	GetOrders(positionID string, side types.Side) []types.Order
	AddOrder(order types.Order)
	DropPosition(side types.PositionSide)
	DropOrders(positionID string)
}

// Handler owns one symbol's outgoing command set. Append/SetPrice/Execute
// are normally driven by the orchestrator's single event loop and
// ExecuteBatch's per-symbol goroutines, which never overlap for a given
// Handler in practice — but UpdateOrder is also called directly whenever
// the venue's user stream reports a fill, which can arrive while a batched
// Execute for this same symbol is still running its own PlaceOrder/GetOrder
// I/O. mu guards commands/seen/price/waiting against that overlap rather
// than relying on the no-mutex single-owner invariant ExchangeState uses.
type Handler struct {
	venue      Venue
	store      Store
	storage    Storage
	strategyID string
	logger     *slog.Logger

	mu       sync.Mutex
	price    types.BookUpdate
	commands []types.Command
	seen     map[string]struct{}

	waiting *waitingSet
}

// New constructs a Handler for one strategy/symbol pairing.
func New(venue Venue, store Store, storage Storage, strategyID string, logger *slog.Logger) *Handler {
	return &Handler{
		venue:      venue,
		store:      store,
		storage:    storage,
		strategyID: strategyID,
		logger:     logger.With("component", "command_handler", "strategy", strategyID),
		commands:   make([]types.Command, 0),
		seen:       make(map[string]struct{}),
		waiting:    newWaitingSet(2, 30*time.Second),
	}
}

// Len returns the number of commands still queued.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands)
}

// HasOutgoingCommands reports whether Execute has work to do.
func (h *Handler) HasOutgoingCommands() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands) > 0
}

// Append enqueues a command, dropping structural duplicates with a warning
// log line (§4.6 invariant 3).
func (h *Handler) Append(cmd types.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hash := cmd.Hash()
	if _, dup := h.seen[hash]; dup {
		h.logger.Warn("duplicate command ignored")
		return
	}
	h.seen[hash] = struct{}{}
	h.commands = append(h.commands, cmd)
}

// SetPrice updates the reference book TrailingStop evaluation reads on the
// next Execute.
func (h *Handler) SetPrice(book types.BookUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.price = book
}

// ulidGen is swappable in tests for deterministic IDs.
var ulidGen = func() string { return ulid.Make().String() }
