// Command feedpublisher normalizes the venue's public WebSocket feed and
// republishes it on the message bus (§2, §4.1): one of the platform's four
// processes, alongside feedlogger and orchestrator (replay is a flag on
// orchestrator, not its own binary).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"derivbot/internal/busclient"
	"derivbot/internal/config"
	"derivbot/internal/exchange"
	"derivbot/internal/feed"
	"derivbot/pkg/types"
)

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

	symbols := make([]types.Symbol, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		symbols[i] = types.Symbol(s)
	}

	exchangeFeed := exchange.NewPublicFeed(exchange.WSBaseURL(cfg.BinanceTestnet), symbols, logger)
	bus := busclient.NewPublisher(cfg.BrokerAMQPURI, logger)
	publisher := feed.NewPublisher(feed.PublicFeed{
		Trades: exchangeFeed.Trades,
		Books:  exchangeFeed.Books,
		Depths: exchangeFeed.Depths,
		Run:    exchangeFeed.Run,
	}, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bus publisher stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- publisher.Run(ctx) }()

	logger.Info("feedpublisher started", "symbols", cfg.Symbols)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("feed publisher stopped unexpectedly", "error", err)
	}

	cancel()
	logger.Info("feedpublisher shut down")
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
