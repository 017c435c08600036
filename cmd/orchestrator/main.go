// Command orchestrator runs every configured Strategy against shared market
// state: the process that actually watches the market and trades it (§2).
// Replay mode is a flag on this binary (config.ReplayConfig.Enabled), not a
// separate process — it swaps the live bus subscriber for a stored-log
// player without touching anything downstream of it.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"derivbot/internal/config"
	"derivbot/internal/orchestrator"
	"derivbot/internal/store"
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

	orch := orchestrator.New(*cfg, db, logger)
	if err := orch.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	var statusServer *orchestrator.StatusServer
	if cfg.HTTP.Enabled {
		statusServer = orchestrator.NewStatusServer(orch, cfg.HTTP)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status endpoint started", "port", cfg.HTTP.Port)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(ctx) }()

	logger.Info("orchestrator started",
		"symbols", cfg.Symbols,
		"strategies", len(cfg.Strategies),
		"replay_mode", cfg.Replay.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("orchestrator stopped unexpectedly", "error", err)
	}

	cancel()

	if statusServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := statusServer.Stop(stopCtx); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	logger.Info("orchestrator shut down")
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
