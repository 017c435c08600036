package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"derivbot/internal/busclient"
	"derivbot/pkg/types"
)

const defaultFlushInterval = 5 * time.Second

// UpdateStore is the persistence Logger needs: a batch write of UpdateLog
// documents (§6.2's bulk_write-with-InsertOne operation).
type UpdateStore interface {
	BulkInsertUpdateLogs(ctx context.Context, logs []types.UpdateLog) error
}

// Logger consumes the same bus topics FeedPublisher writes, queues them, and
// flushes to the document store on a fixed interval for later replay (§2).
type Logger struct {
	sub    *busclient.Subscriber
	store  UpdateStore
	logger *slog.Logger

	flushInterval time.Duration

	mu    sync.Mutex
	queue []types.UpdateLog
}

// NewLogger constructs a Logger bound to a Subscriber already configured
// with the routing keys to log (typically "#" via per-symbol/entity keys
// supplied by the caller).
func NewLogger(sub *busclient.Subscriber, store UpdateStore, logger *slog.Logger) *Logger {
	return &Logger{
		sub:           sub,
		store:         store,
		logger:        logger.With("component", "feed_logger"),
		flushInterval: defaultFlushInterval,
	}
}

// Run drives the bus subscription and the flush ticker until ctx is
// cancelled. Blocks.
func (l *Logger) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		// No reconnect hook: Logger has no local state a gap could leave
		// stale, it just appends whatever it's handed.
		errCh <- l.sub.Run(ctx, l.enqueue, nil)
	}()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flush(context.Background())
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *Logger) enqueue(routingKey string, msg busclient.Message) {
	if msg.Action != "update" {
		return
	}
	var envelope struct {
		Entity types.Entity    `json:"entity"`
		Symbol types.Symbol    `json:"symbol"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		l.logger.Warn("malformed update envelope", "routing_key", routingKey, "error", err)
		return
	}

	entry := types.UpdateLog{
		Symbol:    envelope.Symbol,
		Entity:    envelope.Entity,
		Timestamp: time.Now().UnixMilli(),
		Payload:   envelope.Data,
	}

	l.mu.Lock()
	l.queue = append(l.queue, entry)
	l.mu.Unlock()
}

func (l *Logger) flush(ctx context.Context) {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if err := l.store.BulkInsertUpdateLogs(ctx, batch); err != nil {
		l.logger.Error("flush update log batch failed", "count", len(batch), "error", err)
		return
	}
	l.logger.Debug("flushed update log batch", "count", len(batch))
}
