package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	if BUY.Opposite() != SELL {
		t.Fatalf("BUY.Opposite() = %s, want SELL", BUY.Opposite())
	}
	if SELL.Opposite() != BUY {
		t.Fatalf("SELL.Opposite() = %s, want BUY", SELL.Opposite())
	}
}

func TestPositionSideEntryExit(t *testing.T) {
	cases := []struct {
		side  PositionSide
		entry Side
		exit  Side
	}{
		{PositionLong, BUY, SELL},
		{PositionShort, SELL, BUY},
	}
	for _, c := range cases {
		if got := c.side.EntrySide(); got != c.entry {
			t.Errorf("%s.EntrySide() = %s, want %s", c.side, got, c.entry)
		}
		if got := c.side.ExitSide(); got != c.exit {
			t.Errorf("%s.ExitSide() = %s, want %s", c.side, got, c.exit)
		}
	}
}

func TestTimeframePeriodMillis(t *testing.T) {
	if got := Timeframe1m.PeriodMillis(); got != 60_000 {
		t.Errorf("Timeframe1m.PeriodMillis() = %d, want 60000", got)
	}
	if got := Timeframe1h.PeriodMillis(); got != 3_600_000 {
		t.Errorf("Timeframe1h.PeriodMillis() = %d, want 3600000", got)
	}
	if Timeframe("2m").Valid() {
		t.Errorf("Timeframe(2m) should not be valid")
	}
}

func TestContractRoundToLotSize(t *testing.T) {
	c := Contract{LotSize: decimal.NewFromFloat(0.001)}
	got := c.RoundToLotSize(decimal.NewFromFloat(0.0016))
	want := decimal.NewFromFloat(0.002)
	if !got.Equal(want) {
		t.Errorf("RoundToLotSize(0.0016) = %s, want %s", got, want)
	}
}

func TestContractMeetsMinNotional(t *testing.T) {
	c := Contract{MinNotional: decimal.NewFromInt(5)}
	if !c.MeetsMinNotional(decimal.NewFromFloat(0.5), decimal.NewFromInt(10)) {
		t.Errorf("0.5*10=5 should meet min notional of 5")
	}
	if c.MeetsMinNotional(decimal.NewFromFloat(0.1), decimal.NewFromInt(10)) {
		t.Errorf("0.1*10=1 should not meet min notional of 5")
	}
}

func TestBookUpdateEqualAndValid(t *testing.T) {
	a := BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	b := BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	if !a.Equal(b) {
		t.Errorf("identical books should be Equal")
	}
	if !a.Valid() {
		t.Errorf("positive bid/ask should be Valid")
	}
	bad := BookUpdate{Bid: decimal.NewFromInt(0), Ask: decimal.NewFromInt(101)}
	if bad.Valid() {
		t.Errorf("zero bid should not be Valid")
	}
}

func TestCommandHashDedup(t *testing.T) {
	mkCmd := func() Command {
		return NewPlaceOrder(PlaceOrderCommand{
			Contract:     "BTCUSDT",
			PositionSide: PositionLong,
			OrderSide:    BUY,
			Quantity:     decimal.NewFromFloat(0.01),
		})
	}
	a, b := mkCmd(), mkCmd()
	if a.Hash() != b.Hash() {
		t.Fatalf("structurally identical commands must hash equal: %s != %s", a.Hash(), b.Hash())
	}

	c := NewPlaceOrder(PlaceOrderCommand{
		Contract:     "BTCUSDT",
		PositionSide: PositionLong,
		OrderSide:    BUY,
		Quantity:     decimal.NewFromFloat(0.02),
	})
	if a.Hash() == c.Hash() {
		t.Fatalf("commands with different quantity must hash differently")
	}
}

func TestTrailingStopBuyUpdatesReferenceThenTriggers(t *testing.T) {
	ts := TrailingStopCommand{
		OrderSide:    BUY,
		CallbackRate: decimal.NewFromFloat(0.01),
		Book:         BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)},
	}
	// initial stop_loss = 100 + 100*0.01 = 101
	if !ts.StopLoss().Equal(decimal.NewFromInt(101)) {
		t.Fatalf("StopLoss() = %s, want 101", ts.StopLoss())
	}

	// bid drops to 90: new stop_loss would be 90.9 < 101, so it's a new low — reference moves.
	if triggered := ts.Update(BookUpdate{Bid: decimal.NewFromInt(90), Ask: decimal.NewFromInt(91)}); triggered {
		t.Fatal("a new low for a BUY trailing stop should move the reference, not trigger")
	}
	if !ts.Book.Bid.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("Book should have been replaced with the new low, got bid=%s", ts.Book.Bid)
	}
	newStopLoss := ts.StopLoss() // 90 + 90*0.01 = 90.9

	// bid rallies back up through the stop: triggers.
	if triggered := ts.Update(BookUpdate{Bid: newStopLoss, Ask: newStopLoss.Add(decimal.NewFromInt(1))}); !triggered {
		t.Fatal("bid crossing back up through stop_loss should trigger")
	}
}

func TestTrailingStopSellUpdatesReferenceThenTriggers(t *testing.T) {
	ts := TrailingStopCommand{
		OrderSide:    SELL,
		CallbackRate: decimal.NewFromFloat(0.01),
		Book:         BookUpdate{Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)},
	}
	// stop_loss = 100 - 100*0.01 = 99
	if !ts.StopLoss().Equal(decimal.NewFromInt(99)) {
		t.Fatalf("StopLoss() = %s, want 99", ts.StopLoss())
	}

	// ask rises to 110: new high, reference moves.
	if triggered := ts.Update(BookUpdate{Bid: decimal.NewFromInt(109), Ask: decimal.NewFromInt(110)}); triggered {
		t.Fatal("a new high for a SELL trailing stop should move the reference, not trigger")
	}
	if !ts.Book.Ask.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("Book should have been replaced with the new high, got ask=%s", ts.Book.Ask)
	}

	newStopLoss := ts.StopLoss() // 110 - 110*0.01 = 108.9
	if triggered := ts.Update(BookUpdate{Bid: newStopLoss.Sub(decimal.NewFromInt(1)), Ask: newStopLoss}); !triggered {
		t.Fatal("ask falling back down through stop_loss should trigger")
	}
}

func TestTrailingStopIgnoresAbnormalPrice(t *testing.T) {
	ts := TrailingStopCommand{
		OrderSide:    BUY,
		CallbackRate: decimal.NewFromFloat(0.01),
		Book:         BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)},
	}
	if triggered := ts.Update(BookUpdate{Bid: decimal.Zero, Ask: decimal.NewFromInt(101)}); triggered {
		t.Fatal("a zero bid must never trigger")
	}
	if !ts.Book.Bid.Equal(decimal.NewFromInt(100)) {
		t.Fatal("an abnormal price update must not mutate the reference book")
	}
}

func TestOrderMergePartialUpdate(t *testing.T) {
	existing := Order{ID: "1", Status: OrderNew, Quantity: decimal.NewFromInt(1)}
	patch := Order{Status: OrderFilled, EntryPrice: decimal.NewFromInt(100)}
	merged := existing.Merge(patch)
	if merged.Status != OrderFilled {
		t.Errorf("merged status = %s, want FILLED", merged.Status)
	}
	if !merged.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("merge should not clobber fields absent from patch")
	}
	if !merged.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("merge should apply patch's EntryPrice")
	}
}

func TestPositionIsEntryFill(t *testing.T) {
	p := Position{Side: PositionLong}
	if !p.IsEntryFill(BUY) {
		t.Errorf("BUY should be an entry fill for a LONG position")
	}
	if p.IsEntryFill(SELL) {
		t.Errorf("SELL should not be an entry fill for a LONG position")
	}
}
