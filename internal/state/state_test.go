package state

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"derivbot/internal/indicator"
	"derivbot/pkg/types"
)

func newTestState() *ExchangeState {
	reg := indicator.NewRegistry(indicator.SMA{DefaultPeriod: 2})
	return New(100, 100, []types.Timeframe{types.Timeframe1m}, reg, slog.Default())
}

func TestPreloadAndGet(t *testing.T) {
	s := newTestState()
	s.Preload("BTCUSDT", types.Contract{Symbol: "BTCUSDT"})

	ss, ok := s.Get("BTCUSDT")
	if !ok {
		t.Fatal("expected BTCUSDT to be preloaded")
	}
	if ss.Contract.Symbol != "BTCUSDT" {
		t.Errorf("Contract.Symbol = %s, want BTCUSDT", ss.Contract.Symbol)
	}
	if _, ok := ss.Candles[types.Timeframe1m]; !ok {
		t.Error("expected a 1m aggregator to be seeded")
	}
}

func TestResetClearsAllSymbols(t *testing.T) {
	s := newTestState()
	s.Preload("BTCUSDT", types.Contract{Symbol: "BTCUSDT"})
	s.Reset()

	if _, ok := s.Get("BTCUSDT"); ok {
		t.Fatal("expected Reset to drop all symbol state")
	}
}

func TestApplyBookDedup(t *testing.T) {
	s := newTestState()
	ss, _ := s.Get("BTCUSDT")
	s.Preload("BTCUSDT", types.Contract{Symbol: "BTCUSDT"})
	ss, _ = s.Get("BTCUSDT")

	book := types.BookUpdate{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	if changed := ss.ApplyBook("bookTicker", book); !changed {
		t.Error("first ApplyBook should report changed=true")
	}
	if changed := ss.ApplyBook("bookTicker", book); changed {
		t.Error("identical ApplyBook should report changed=false (dedup)")
	}
	book.Bid = decimal.NewFromInt(99)
	if changed := ss.ApplyBook("bookTicker", book); !changed {
		t.Error("differing ApplyBook should report changed=true")
	}
}
