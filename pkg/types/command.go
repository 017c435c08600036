package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// CommandKind discriminates the Command tagged union (§4.6). Command is a
// sum type, not an inheritance tree: exactly one of the payload fields below
// is meaningful for a given Kind.
type CommandKind string

const (
	CommandPlaceOrder    CommandKind = "PLACE_ORDER"
	CommandTrailingStop  CommandKind = "TRAILING_STOP"
	CommandNotify        CommandKind = "NOTIFY"
)

// PlaceOrderCommand emits a MARKET order to the venue.
type PlaceOrderCommand struct {
	Contract     Symbol
	PositionSide PositionSide
	OrderSide    Side
	Quantity     decimal.Decimal
	Context      map[string]any
}

// TrailingStopCommand maintains a trailing reference price in place and
// yields NextCommand once the book crosses back by CallbackRate (§4.6). Book
// IS the reference price: StopSize/StopLoss are derived from it on every
// read, and Update mutates Book in place when a new extreme is observed —
// there is no separately stored stop price to fall out of sync.
type TrailingStopCommand struct {
	Contract     Symbol
	Book         BookUpdate
	OrderSide    Side
	CallbackRate decimal.Decimal
	NextCommand  *Command
}

// StopSize is the callback distance from the current reference book.
func (t TrailingStopCommand) StopSize() decimal.Decimal {
	if t.OrderSide == BUY {
		return t.Book.Bid.Mul(t.CallbackRate)
	}
	return t.Book.Ask.Mul(t.CallbackRate)
}

// StopLoss is the current trigger price: bid+stop_size for BUY,
// ask-stop_size for SELL.
func (t TrailingStopCommand) StopLoss() decimal.Decimal {
	if t.OrderSide == BUY {
		return t.Book.Bid.Add(t.StopSize())
	}
	return t.Book.Ask.Sub(t.StopSize())
}

// Update feeds a new book into the trailing stop. It mutates t.Book in
// place when a new extreme is observed (new low for BUY, new high for
// SELL), and reports triggered=true once the book has crossed back by
// CallbackRate (§4.6). Abnormal prices (bid/ask ≤ 0) are ignored.
func (t *TrailingStopCommand) Update(book BookUpdate) (triggered bool) {
	if !book.Valid() {
		return false
	}

	stopLoss := t.StopLoss()

	switch t.OrderSide {
	case BUY:
		stopSize := book.Bid.Mul(t.CallbackRate)
		if book.Bid.Add(stopSize).LessThan(stopLoss) {
			t.Book = book
		} else if book.Bid.GreaterThanOrEqual(stopLoss) {
			triggered = true
		}
	case SELL:
		stopSize := book.Ask.Mul(t.CallbackRate)
		if book.Ask.Sub(stopSize).GreaterThan(stopLoss) {
			t.Book = book
		} else if book.Ask.LessThanOrEqual(stopLoss) {
			triggered = true
		}
	}
	return triggered
}

// NotifyCommand is a side-effect-only command: log/alert and drop.
type NotifyCommand struct {
	PositionID string
	OrderID    string
	Message    string
}

// Command is the tagged-union element of a symbol's outgoing command queue.
// NextTime marks a command that handle() re-queued for the following tick
// instead of consuming (§4.6).
type Command struct {
	Kind         CommandKind
	PlaceOrder   *PlaceOrderCommand
	TrailingStop *TrailingStopCommand
	Notify       *NotifyCommand
	NextTime     bool
}

// NewPlaceOrder constructs a PlaceOrder command.
func NewPlaceOrder(p PlaceOrderCommand) Command {
	return Command{Kind: CommandPlaceOrder, PlaceOrder: &p}
}

// NewTrailingStop constructs a TrailingStop command.
func NewTrailingStop(t TrailingStopCommand) Command {
	return Command{Kind: CommandTrailingStop, TrailingStop: &t}
}

// NewNotify constructs a Notify command.
func NewNotify(n NotifyCommand) Command {
	return Command{Kind: CommandNotify, Notify: &n}
}

// Hash is the structural hash used by CommandHandler.append to dedup
// identical commands (§4.6, invariant 3). Two commands that would have the
// same observable effect must hash equal; NextTime and chained
// NextCommand pointers are excluded since they're handler-internal state,
// not identity.
func (c Command) Hash() string {
	h := sha256.New()
	switch c.Kind {
	case CommandPlaceOrder:
		p := c.PlaceOrder
		fmt.Fprintf(h, "PO|%s|%s|%s|%s", p.Contract, p.PositionSide, p.OrderSide, p.Quantity.String())
	case CommandTrailingStop:
		t := c.TrailingStop
		fmt.Fprintf(h, "TS|%s|%s|%s", t.Contract, t.OrderSide, t.CallbackRate.String())
	case CommandNotify:
		n := c.Notify
		fmt.Fprintf(h, "N|%s|%s|%s", n.PositionID, n.OrderID, n.Message)
	}
	return hex.EncodeToString(h.Sum(nil))
}
