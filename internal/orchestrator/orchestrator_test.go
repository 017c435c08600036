package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"derivbot/internal/busclient"
	"derivbot/internal/config"
	"derivbot/internal/indicator"
	"derivbot/internal/state"
	"derivbot/pkg/types"
)

func TestCollectTimeframesDedupsAcrossStrategies(t *testing.T) {
	t.Parallel()
	strategies := []config.StrategyConfig{
		{Conditions: []config.StrategyCondition{{Timeframe: "1m"}, {Timeframe: "5m"}}},
		{Conditions: []config.StrategyCondition{{Timeframe: "5m"}, {Timeframe: "1h"}}},
	}
	got := collectTimeframes(strategies)
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct timeframes, got %v", got)
	}
}

func TestRoutingKeysCoversAliveResetAndEverySymbolEntity(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{bySymbol: map[types.Symbol][]*session{
		"BTCUSDT": nil,
		"ETHUSDT": nil,
	}}
	keys := o.routingKeys()

	want := map[string]bool{
		"alive": true, "reset": true,
		"BTCUSDT.trade": true, "BTCUSDT.book": true, "BTCUSDT.depth": true,
		"ETHUSDT.trade": true, "ETHUSDT.book": true, "ETHUSDT.depth": true,
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d routing keys, got %d: %v", len(want), len(keys), keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Errorf("unexpected routing key %q", k)
		}
	}
}

func TestSymbolStringsPreservesOrder(t *testing.T) {
	t.Parallel()
	got := symbolStrings([]types.Symbol{"BTCUSDT", "ETHUSDT"})
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("unexpected result: %v", got)
	}
}

// testOrchestrator builds an Orchestrator with a real ExchangeState (no
// strategies wired) so applyUpdate's depth/skip-unknown-symbol behavior can
// be exercised without a live venue or bus.
func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	registry := indicator.NewRegistry(indicator.SMA{}, indicator.RSI{})
	st := state.New(10, 10, []types.Timeframe{types.Timeframe1m}, registry, slog.Default())
	ss := st.Preload("BTCUSDT", types.Contract{Symbol: "BTCUSDT"})
	ss.Depth.SetSnapshot(types.DepthUpdate{LastUpdateID: 100})

	return &Orchestrator{
		cfg:      config.Config{},
		state:    st,
		bySymbol: map[types.Symbol][]*session{"BTCUSDT": nil},
		logger:   slog.Default(),
	}
}

func TestApplyUpdateIgnoresUnknownSymbol(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(t)
	// Should not panic even though "ETHUSDT" was never preloaded.
	o.applyUpdate(context.Background(), "ETHUSDT", types.EntityTrade, []byte(`{}`))
}

func TestApplyUpdateAppliesDepthDiff(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(t)

	diff := types.DepthUpdate{
		FirstUpdateID: 101,
		LastUpdateID:  102,
		Bids:          []types.PriceLevel{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}},
	}
	payload, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	o.applyUpdate(context.Background(), "BTCUSDT", types.EntityDepth, payload)

	ss, _ := o.state.Get("BTCUSDT")
	bids := ss.Depth.Bids()
	if len(bids) != 1 || bids[0].Price.String() != "100" {
		t.Errorf("expected depth to reflect applied diff, got %v", bids)
	}
}

func TestHandleBusMessageAliveUpdatesLastAlive(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(t)
	if !o.lastAlive.IsZero() {
		t.Fatal("expected lastAlive to start zero")
	}
	o.handleBusMessage(context.Background(), "alive", busclient.Message{Action: "alive"})
	if o.lastAlive.IsZero() {
		t.Error("expected lastAlive to be set after an alive message")
	}
}
