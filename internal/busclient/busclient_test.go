package busclient

import (
	"encoding/json"
	"testing"

	"derivbot/pkg/types"
)

func TestEntityRoutingKey(t *testing.T) {
	got := EntityRoutingKey("BTCUSDT", types.EntityBook)
	want := "BTCUSDT.book"
	if got != want {
		t.Errorf("EntityRoutingKey() = %q, want %q", got, want)
	}
}

func TestSubscriptionKeys(t *testing.T) {
	symbols := []types.Symbol{"BTCUSDT", "ETHUSDT"}
	entities := []types.Entity{types.EntityBook, types.EntityTrade}

	got := SubscriptionKeys(symbols, entities)

	want := []string{
		"alive", "reset",
		"BTCUSDT.book", "BTCUSDT.trade",
		"ETHUSDT.book", "ETHUSDT.trade",
	}
	if len(got) != len(want) {
		t.Fatalf("SubscriptionKeys() len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SubscriptionKeys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEncodeEnvelope(t *testing.T) {
	body, err := encode("update", map[string]any{"entity": "book", "symbol": "BTCUSDT"})
	if err != nil {
		t.Fatalf("encode() error: %v", err)
	}

	var decoded struct {
		Action  string `json:"action"`
		Payload struct {
			Entity string `json:"entity"`
			Symbol string `json:"symbol"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal encoded envelope: %v", err)
	}
	if decoded.Action != "update" {
		t.Errorf("decoded.Action = %q, want update", decoded.Action)
	}
	if decoded.Payload.Entity != "book" || decoded.Payload.Symbol != "BTCUSDT" {
		t.Errorf("decoded.Payload = %+v, want entity=book symbol=BTCUSDT", decoded.Payload)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	b := initialBackoff
	for i := 0; i < 10; i++ {
		b = nextBackoff(b)
	}
	if b != maxReconnectWait {
		t.Errorf("nextBackoff should cap at %v, got %v", maxReconnectWait, b)
	}
}
