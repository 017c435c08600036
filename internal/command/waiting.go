package command

import (
	"time"

	"derivbot/pkg/types"
)

// waitingSet mirrors the Python handler's ExpiringDict: a small, TTL-bounded
// correlation table from client_order_id to the PlaceOrder command that
// produced it, consulted when the user stream reports a fill (§4.6).
type waitingSet struct {
	maxLen int
	maxAge time.Duration

	order []string // insertion order, oldest first
	items map[string]waitingEntry
}

type waitingEntry struct {
	cmd       types.PlaceOrderCommand
	expiresAt time.Time
}

func newWaitingSet(maxLen int, maxAge time.Duration) *waitingSet {
	return &waitingSet{
		maxLen: maxLen,
		maxAge: maxAge,
		items:  make(map[string]waitingEntry),
	}
}

// Put records clientOrderID -> cmd, evicting the oldest entry if the set is
// already at capacity and purging anything past its TTL.
func (w *waitingSet) Put(clientOrderID string, cmd types.PlaceOrderCommand) {
	w.purgeExpired()

	if _, exists := w.items[clientOrderID]; !exists {
		w.order = append(w.order, clientOrderID)
	}
	w.items[clientOrderID] = waitingEntry{cmd: cmd, expiresAt: time.Now().Add(w.maxAge)}

	for len(w.order) > w.maxLen {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.items, oldest)
	}
}

// Pop removes and returns the command correlated to clientOrderID, if any
// and not expired.
func (w *waitingSet) Pop(clientOrderID string) (types.PlaceOrderCommand, bool) {
	w.purgeExpired()

	entry, ok := w.items[clientOrderID]
	if !ok {
		return types.PlaceOrderCommand{}, false
	}
	delete(w.items, clientOrderID)
	for i, id := range w.order {
		if id == clientOrderID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return entry.cmd, true
}

func (w *waitingSet) purgeExpired() {
	now := time.Now()
	live := w.order[:0]
	for _, id := range w.order {
		entry := w.items[id]
		if now.After(entry.expiresAt) {
			delete(w.items, id)
			continue
		}
		live = append(live, id)
	}
	w.order = live
}
