// Package replay implements replay mode (§2, §6.4): the orchestrator reads
// previously logged UpdateLog entries from the document store instead of
// the live bus, and dispatches them at replay_speed instead of wall-clock
// pace.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"derivbot/pkg/types"
)

// LogStore is the read path Player needs from the document store.
type LogStore interface {
	FindUpdateLogsAcrossSymbols(ctx context.Context, symbols []types.Symbol, fromMs, toMs int64) ([]types.UpdateLog, error)
}

// Handler is invoked once per replayed log entry, in the order the store
// returns them (timestamp order across all symbols).
type Handler func(symbol types.Symbol, entity types.Entity, payload []byte)

// Player replays a stored update-log range at a configurable speed
// multiplier, grounded on the line client's ReplayClient: speed 0 means
// as-fast-as-possible (no pacing delay), any positive multiplier paces
// consecutive entries by their original gap divided by the multiplier.
type Player struct {
	store   LogStore
	symbols []types.Symbol
	speed   int
	from    int64
	to      int64
	logger  *slog.Logger
}

// NewPlayer constructs a Player. speed is in [0,100] (§6.4); to<=0 means no
// upper bound.
func NewPlayer(store LogStore, symbols []types.Symbol, speed int, from, to int64, logger *slog.Logger) *Player {
	return &Player{
		store:   store,
		symbols: symbols,
		speed:   speed,
		from:    from,
		to:      to,
		logger:  logger.With("component", "replay_player"),
	}
}

// Run loads the full matching log range and dispatches it to handle at the
// configured pace. Blocks until the range is exhausted or ctx is cancelled.
func (p *Player) Run(ctx context.Context, handle Handler) error {
	logs, err := p.store.FindUpdateLogsAcrossSymbols(ctx, p.symbols, p.from, p.to)
	if err != nil {
		return fmt.Errorf("load replay range: %w", err)
	}
	p.logger.Info("replay starting", "entries", len(logs), "speed", p.speed)

	progressEvery := len(logs) / 100
	var prevTimestamp int64
	for i, log := range logs {
		if i > 0 && p.speed > 0 {
			diffMs := log.Timestamp - prevTimestamp
			delay := time.Duration(diffMs) * time.Millisecond / time.Duration(p.speed)
			if delay >= 10*time.Millisecond {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		handle(log.Symbol, log.Entity, log.Payload)
		prevTimestamp = log.Timestamp

		if progressEvery > 0 && (i+1)%progressEvery == 0 {
			p.logger.Info("replay progress", "pct", float64(i+1)*100/float64(len(logs)))
		}
	}

	p.logger.Info("replay done")
	return nil
}
