// Package paper implements an in-memory fake venue satisfying both
// command.Venue and strategy.Venue, grounded on
// modules/exchanges/fake/client.py's FakeExchangeClient: it fills every
// MARKET order immediately at the last known book price, charges a taker
// fee, and tracks wallet balances/positions entirely in memory. Used for
// dry-run strategies and tests — no network I/O, no signing.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"derivbot/internal/command"
	"derivbot/pkg/types"
)

// takerFee mirrors FakeExchangeClient.TAKER_FEE (0.04% — MARKET orders only;
// this adapter never places LIMIT orders, so no maker-fee path exists).
var takerFee = decimal.NewFromFloat(0.0004)

// Client is the in-memory fake venue. Safe for concurrent use: the
// orchestrator's ExecuteBatch may drive several strategies' handlers
// concurrently, and each handler may hold a Client shared across goroutines
// if a test wires one paper client to multiple strategies.
type Client struct {
	mu sync.Mutex

	balances  map[string]decimal.Decimal
	contracts map[types.Symbol]types.Contract
	books     map[types.Symbol]types.BookUpdate
	positions []types.AccountPosition
	orders    map[string]types.Order

	hedgeMode bool
	leverage  map[types.Symbol]int

	nextOrderID int64
}

// New creates a paper client seeded with startingBalance of quoteAsset and
// the given contracts, which supply each symbol's base and quote assets for
// balance bookkeeping.
func New(quoteAsset string, startingBalance decimal.Decimal, contracts map[types.Symbol]types.Contract) *Client {
	return &Client{
		balances:    map[string]decimal.Decimal{quoteAsset: startingBalance},
		contracts:   contracts,
		books:       make(map[types.Symbol]types.BookUpdate),
		orders:      make(map[string]types.Order),
		leverage:    make(map[types.Symbol]int),
		nextOrderID: 10_000_000,
	}
}

// SetBook seeds the reference price PlaceOrder fills market orders against —
// the paper equivalent of FakeExchangeClient's `self._book`.
func (c *Client) SetBook(symbol types.Symbol, book types.BookUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = book
}

// PlaceOrder fills immediately at the current book price for the order's
// side (bid for BUY, ask for SELL), debiting/crediting balances and charging
// the taker fee. A BUY whose notional plus fee exceeds the quote balance is
// rejected before filling; the quantity itself is not checked against the
// contract's lot size or min notional.
func (c *Client) PlaceOrder(ctx context.Context, req command.PlaceOrderRequest) (*types.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	contract, ok := c.contracts[req.Contract]
	if !ok {
		return nil, fmt.Errorf("place_order: unknown contract %s", req.Contract)
	}
	book, ok := c.books[req.Contract]
	if !ok || !book.Valid() {
		return nil, fmt.Errorf("place_order: no book price for %s", req.Contract)
	}

	price := book.Bid
	if req.OrderSide == types.SELL {
		price = book.Ask
	}
	notional := price.Mul(req.Quantity)
	commission := notional.Mul(takerFee)

	quoteBalance := c.balances[contract.QuoteAsset]
	if req.OrderSide == types.BUY && quoteBalance.LessThan(notional.Add(commission)) {
		return nil, fmt.Errorf("place_order: insufficient %s balance", contract.QuoteAsset)
	}

	switch req.OrderSide {
	case types.BUY:
		c.balances[contract.QuoteAsset] = quoteBalance.Sub(notional).Sub(commission)
		c.balances[contract.BaseAsset] = c.balances[contract.BaseAsset].Add(req.Quantity)
	case types.SELL:
		c.balances[contract.QuoteAsset] = quoteBalance.Add(notional).Sub(commission)
		c.balances[contract.BaseAsset] = c.balances[contract.BaseAsset].Sub(req.Quantity)
	}

	c.nextOrderID++
	order := types.Order{
		ID:            fmt.Sprintf("%d", c.nextOrderID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Contract,
		Status:        types.OrderFilled,
		Type:          types.OrderTypeMarket,
		Side:          req.OrderSide,
		PositionSide:  req.PositionSide,
		Quantity:      req.Quantity,
		EntryPrice:    price,
		Timestamp:     nowMillis(),
	}
	c.orders[order.ID] = order
	c.applyFill(req.PositionSide, req.OrderSide, req.Quantity, price)

	out := order
	return &out, nil
}

// applyFill keeps the fake venue's own position view in sync with fills,
// the paper-client analogue of the real venue patching account_update.
func (c *Client) applyFill(side types.PositionSide, orderSide types.Side, qty, price decimal.Decimal) {
	for i := range c.positions {
		if c.positions[i].Side != side {
			continue
		}
		if orderSide == side.EntrySide() {
			existing := c.positions[i]
			totalQty := existing.Quantity.Add(qty)
			if totalQty.IsPositive() {
				weighted := existing.EntryPrice.Mul(existing.Quantity).Add(price.Mul(qty)).Div(totalQty)
				c.positions[i].EntryPrice = weighted
			}
			c.positions[i].Quantity = totalQty
		} else {
			c.positions[i].Quantity = c.positions[i].Quantity.Sub(qty)
			if !c.positions[i].Quantity.IsPositive() {
				c.positions = append(c.positions[:i], c.positions[i+1:]...)
			}
		}
		return
	}
	if orderSide == side.EntrySide() {
		c.positions = append(c.positions, types.AccountPosition{Side: side, Quantity: qty, EntryPrice: price})
	}
}

// GetOrder returns the recorded order (command.Venue) — paper fills are
// synchronous, so this is always immediately terminal.
func (c *Client) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (*types.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("get_order: unknown order %s", orderID)
	}
	return &order, nil
}

// GetAccountInfo returns the fake venue's balances and positions.
func (c *Client) GetAccountInfo(ctx context.Context) (*types.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	assets := make(map[string]decimal.Decimal, len(c.balances))
	for k, v := range c.balances {
		assets[k] = v
	}
	positions := make([]types.AccountPosition, len(c.positions))
	copy(positions, c.positions)
	return &types.Account{Assets: assets, Positions: positions}, nil
}

// GetPositions returns the fake venue's current positions (strategy.Venue).
func (c *Client) GetPositions(ctx context.Context) ([]types.AccountPosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.AccountPosition, len(c.positions))
	copy(out, c.positions)
	return out, nil
}

// IsHedgeMode reports the configured position mode.
func (c *Client) IsHedgeMode(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hedgeMode, nil
}

// ChangePositionMode flips hedge mode.
func (c *Client) ChangePositionMode(ctx context.Context, hedge bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hedgeMode = hedge
	return nil
}

// ChangeLeverage records the configured leverage for symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[symbol] = leverage
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// RandomOrderID is kept for parity with FakeExchangeClient's
// random.randint-based order IDs, for callers that want a non-sequential ID
// generator instead of Client's internal counter.
func RandomOrderID() string {
	return fmt.Sprintf("%d", 10_000_000+rand.Int63n(990_000_000))
}
