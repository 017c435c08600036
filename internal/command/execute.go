package command

import (
	"context"
	"time"

	"derivbot/pkg/types"
)

// Execute drains the command queue in order. Each command is handled until
// it resolves to nil or asks to be re-evaluated next tick (NextTime); the
// latter are carried over to the next Execute call, everything else is
// consumed (§4.6). Holds h.mu for its whole run, including PlaceOrder/
// GetOrder I/O, so a fill reported mid-batch via UpdateOrder waits its turn
// instead of racing commands/seen/waiting.
func (h *Handler) Execute(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.commands) == 0 {
		return
	}

	next := make([]types.Command, 0, len(h.commands))
	nextSeen := make(map[string]struct{}, len(h.commands))

	for _, cmd := range h.commands {
		current := &cmd
		for current != nil {
			resolved := h.handle(ctx, *current)
			current = resolved
			if current != nil && current.NextTime {
				hash := current.Hash()
				if _, dup := nextSeen[hash]; !dup {
					nextSeen[hash] = struct{}{}
					next = append(next, *current)
				}
				break
			}
		}
	}

	h.commands = next
	h.seen = nextSeen
}

// handle dispatches one command and returns what should happen next: nil
// when the command is fully consumed, or a command to re-enter the loop
// (TrailingStop re-arms itself with NextTime set until it triggers).
func (h *Handler) handle(ctx context.Context, cmd types.Command) *types.Command {
	switch cmd.Kind {
	case types.CommandTrailingStop:
		return h.handleTrailingStop(ctx, cmd.TrailingStop)
	case types.CommandPlaceOrder:
		h.handlePlaceOrder(ctx, cmd.PlaceOrder)
		return nil
	case types.CommandNotify:
		h.handleNotify(cmd.Notify)
		return nil
	default:
		h.logger.Error("inconsistent command", "kind", cmd.Kind)
		return nil
	}
}

func (h *Handler) handleTrailingStop(ctx context.Context, ts *types.TrailingStopCommand) *types.Command {
	triggered := ts.Update(h.price)
	if triggered {
		return ts.NextCommand
	}
	rearmed := types.NewTrailingStop(*ts)
	rearmed.NextTime = true
	return &rearmed
}

func (h *Handler) handleNotify(n *types.NotifyCommand) {
	h.logger.Info("notify", "position_id", n.PositionID, "order_id", n.OrderID, "message", n.Message)
}

func (h *Handler) handlePlaceOrder(ctx context.Context, p *types.PlaceOrderCommand) {
	clientOrderID := ulidGen()
	h.waiting.Put(clientOrderID, *p)

	order, err := h.venue.PlaceOrder(ctx, PlaceOrderRequest{
		ClientOrderID: clientOrderID,
		Contract:      p.Contract,
		Type:          types.OrderTypeMarket,
		Quantity:      p.Quantity,
		PositionSide:  p.PositionSide,
		OrderSide:     p.OrderSide,
	})
	if err != nil {
		h.logger.Error("place_order failed", "contract", p.Contract, "err", err)
		return
	}
	if order == nil {
		return
	}

	if !order.IsProcessed() {
		var ok bool
		order, ok = h.waitForProcessed(ctx, *order)
		if !ok {
			return
		}
	}

	h.updateOrder(ctx, *order)
}

// waitForProcessed polls get_order every second until the order reaches a
// terminal state, or the context is cancelled (§4.6).
func (h *Handler) waitForProcessed(ctx context.Context, order types.Order) (*types.Order, bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			fresh, err := h.venue.GetOrder(ctx, order.Symbol, order.ID)
			if err != nil {
				h.logger.Warn("get_order failed while waiting", "order_id", order.ID, "err", err)
				continue
			}
			if fresh.IsProcessed() {
				return fresh, true
			}
		}
	}
}

// UpdateOrder is called whenever the user stream reports an order update; it
// is exported for the venue's user-stream client to call directly, since
// fills can arrive out of band from a PlaceOrder command this handler issued
// itself (§4.6).
func (h *Handler) UpdateOrder(ctx context.Context, order types.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updateOrder(ctx, order)
}

func (h *Handler) updateOrder(ctx context.Context, order types.Order) {
	if !order.IsProcessed() {
		return
	}

	count, err := h.store.CountOrders(ctx, order.ID)
	if err != nil {
		h.logger.Error("count_orders failed", "order_id", order.ID, "err", err)
		return
	}
	if count > 0 {
		return
	}

	position, hasPosition := h.storage.GetPosition(order.PositionSide)
	cmd, hadWaiting := h.waiting.Pop(order.ClientOrderID)

	if !hasPosition {
		position = h.createPosition(ctx, order.Symbol, order.PositionSide)
	}

	if hadWaiting && cmd.Context != nil {
		order.Context = cmd.Context
	}
	order.PositionID = position.ID

	if err := h.store.CreateOrder(ctx, order); err != nil {
		h.logger.Error("create_order failed", "order_id", order.ID, "err", err)
		return
	}

	if order.IsFilled() {
		h.logger.Info("order filled",
			"position_id", position.ID, "side", order.Side,
			"quantity", order.Quantity, "price", order.EntryPrice)
		h.storage.AddOrder(order)
		h.updatePosition(ctx, position, order)
	}
}

func (h *Handler) createPosition(ctx context.Context, symbol types.Symbol, side types.PositionSide) types.Position {
	position := types.Position{
		ID:         ulidGen(),
		Symbol:     symbol,
		Side:       side,
		StrategyID: h.strategyID,
		Status:     types.PositionOpen,
		CreateTS:   nowMillis(),
	}
	if err := h.store.CreatePosition(ctx, position); err != nil {
		h.logger.Error("create_position failed", "symbol", symbol, "err", err)
	}
	h.storage.SetPosition(position)
	h.logger.Info("position created", "position_id", position.ID)
	return position
}

func (h *Handler) updatePosition(ctx context.Context, position types.Position, order types.Order) {
	entrySide := position.Side.EntrySide()

	if order.Side == entrySide {
		entryOrders := h.storage.GetOrders(position.ID, entrySide)
		totalPrice, totalQuantity := weightedTotals(entryOrders)
		if !totalQuantity.IsZero() {
			position.EntryPrice = totalPrice.Div(totalQuantity)
		}
		position.Quantity = position.Quantity.Add(order.Quantity)
		position.TotalQuantity = position.TotalQuantity.Add(order.Quantity)
	} else {
		exitSide := position.Side.ExitSide()
		exitOrders := h.storage.GetOrders(position.ID, exitSide)
		totalPrice, totalQuantity := weightedTotals(exitOrders)
		if !totalQuantity.IsZero() {
			position.ExitPrice = totalPrice.Div(totalQuantity)
		}
		position.Quantity = position.Quantity.Sub(order.Quantity)
		if position.Quantity.IsZero() {
			position.Status = types.PositionClosed
		}
	}

	position.Orders = append(position.Orders, order.ID)
	position.UpdateTS = nowMillis()

	if err := h.store.UpdatePosition(ctx, position); err != nil {
		h.logger.Error("update_position failed", "position_id", position.ID, "err", err)
	}

	if position.Status == types.PositionClosed {
		h.storage.DropPosition(position.Side)
		h.storage.DropOrders(position.ID)
		h.logger.Info("position closed",
			"position_id", position.ID,
			"total_quantity", position.TotalQuantity,
			"entry_price", position.EntryPrice,
			"exit_price", position.ExitPrice)
	} else {
		h.storage.SetPosition(position)
	}
}
