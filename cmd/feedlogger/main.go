// Command feedlogger consumes the message bus and persists every market
// update to the document store's update_logs collection for replay and audit
// (§2, §6.2): one of the platform's four processes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"derivbot/internal/busclient"
	"derivbot/internal/config"
	"derivbot/internal/feed"
	"derivbot/internal/store"
	"derivbot/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DERIV_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Error("failed to close mongo", "error", err)
		}
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	sub := busclient.NewSubscriber(cfg.BrokerAMQPURI, routingKeys(cfg.Symbols), logger)
	feedLogger := feed.NewLogger(sub, db, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- feedLogger.Run(ctx) }()

	logger.Info("feedlogger started", "symbols", cfg.Symbols)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("feed logger stopped unexpectedly", "error", err)
	}

	cancel()
	logger.Info("feedlogger shut down")
}

// routingKeys binds the subscriber to every configured symbol's trade/book/
// depth topics (§6.1) — alive/reset aren't persisted, only market updates.
func routingKeys(symbols []string) []string {
	keys := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		sym := types.Symbol(s)
		keys = append(keys,
			string(sym)+"."+string(types.EntityTrade),
			string(sym)+"."+string(types.EntityBook),
			string(sym)+"."+string(types.EntityDepth),
		)
	}
	return keys
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
