package exchange

import (
	"testing"

	"github.com/shopspring/decimal"

	"derivbot/pkg/types"
)

func TestBaseURLSelectsTestnet(t *testing.T) {
	t.Parallel()
	if baseURL(false) != restBaseURL {
		t.Errorf("baseURL(false) = %s, want %s", baseURL(false), restBaseURL)
	}
	if baseURL(true) != restTestnetBaseURL {
		t.Errorf("baseURL(true) = %s, want %s", baseURL(true), restTestnetBaseURL)
	}
}

func TestParseDecimalInvalidReturnsZero(t *testing.T) {
	t.Parallel()
	if !parseDecimal("not-a-number").IsZero() {
		t.Error("expected zero for unparseable decimal")
	}
	if !parseDecimal("1.5").Equal(decimal.NewFromFloat(1.5)) {
		t.Error("expected 1.5 to parse correctly")
	}
}

func TestDecodeLevelsSkipsMalformedRows(t *testing.T) {
	t.Parallel()
	levels := decodeLevels([][]string{{"100", "2"}, {"lonely"}, {"101", "3"}})
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(decimal.NewFromInt(100)) || !levels[1].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("unexpected levels: %+v", levels)
	}
}

func TestDecodeKlineRowSkipsMalformed(t *testing.T) {
	t.Parallel()
	_, ok := decodeKlineRow("BTCUSDT", types.Timeframe1m, []any{float64(1700000000000)})
	if ok {
		t.Fatal("expected a short row to be rejected")
	}

	candle, ok := decodeKlineRow("BTCUSDT", types.Timeframe1m, []any{
		float64(1700000000000), "100", "110", "95", "105", "42",
	})
	if !ok {
		t.Fatal("expected a well-formed row to decode")
	}
	if candle.Symbol != "BTCUSDT" || candle.Timeframe != types.Timeframe1m {
		t.Errorf("unexpected candle identity: %+v", candle)
	}
	if !candle.Open.Equal(decimal.NewFromInt(100)) || !candle.Close.Equal(decimal.NewFromInt(105)) {
		t.Errorf("unexpected OHLC: %+v", candle)
	}
	if candle.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want 1700000000000", candle.Timestamp)
	}
}

func TestDecodeOrderStatus(t *testing.T) {
	t.Parallel()
	cases := map[string]types.OrderStatus{
		"NEW":              types.OrderNew,
		"PARTIALLY_FILLED": types.OrderPartiallyFilled,
		"FILLED":           types.OrderFilled,
		"CANCELED":         types.OrderCanceled,
		"EXPIRED":          types.OrderExpired,
		"REJECTED":         types.OrderRejected,
		"SOMETHING_NEW":    types.OrderNew,
	}
	for wire, want := range cases {
		if got := decodeOrderStatus(wire); got != want {
			t.Errorf("decodeOrderStatus(%q) = %s, want %s", wire, got, want)
		}
	}
}

func TestWireOrderToOrder(t *testing.T) {
	t.Parallel()
	w := wireOrder{
		OrderID: 42, ClientOrderID: "cid-1", Symbol: "BTCUSDT", Status: "FILLED",
		Side: "BUY", PositionSide: "LONG", ExecutedQty: "0.5", AvgPrice: "20000", UpdateTime: 1700000000000,
	}
	order := w.toOrder()
	if order.ID != "42" || order.ClientOrderID != "cid-1" {
		t.Errorf("unexpected identity: %+v", order)
	}
	if order.Status != types.OrderFilled || order.Side != types.BUY || order.PositionSide != types.PositionLong {
		t.Errorf("unexpected classification: %+v", order)
	}
	if !order.Quantity.Equal(decimal.NewFromFloat(0.5)) || !order.EntryPrice.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("unexpected amounts: %+v", order)
	}
}
