package command

import (
	"context"
	"sync"
	"time"
)

// batchSize and batchGap bound how many symbols execute their command
// queues concurrently on one orchestrator tick, and the pause between
// batches, so a burst across many symbols doesn't hammer the venue all at
// once (§4.6).
const (
	batchSize = 10
	batchGap  = 500 * time.Millisecond
)

// ExecuteBatch runs Execute across many handlers — one per symbol/strategy
// — in groups of batchSize, sleeping batchGap between groups. It returns
// once every handler has run, or early if ctx is cancelled mid-batch.
func ExecuteBatch(ctx context.Context, handlers []*Handler) error {
	for start := 0; start < len(handlers); start += batchSize {
		end := min(start+batchSize, len(handlers))

		var wg sync.WaitGroup
		for _, h := range handlers[start:end] {
			if !h.HasOutgoingCommands() {
				continue
			}
			wg.Add(1)
			go func(h *Handler) {
				defer wg.Done()
				h.Execute(ctx)
			}(h)
		}
		wg.Wait()

		if end >= len(handlers) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(batchGap):
		}
	}
	return nil
}
