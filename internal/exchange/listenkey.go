package exchange

import (
	"context"
	"fmt"
	"log/slog"
)

// ListenKeySession owns one user stream's listen key: creates it and keeps it
// alive on listenKeyRefreshInterval. A failed refresh is only logged; the key
// is never replaced and no UserFeed is rebuilt.
type ListenKeySession struct {
	client *Client
	logger *slog.Logger
}

// NewListenKeySession wraps client for listen-key lifecycle management.
func NewListenKeySession(client *Client, logger *slog.Logger) *ListenKeySession {
	return &ListenKeySession{client: client, logger: logger.With("component", "listen_key_session")}
}

// Start creates a listen key, starts a background keepalive goroutine tied
// to ctx, and returns the key. Callers build the UserFeed from the returned
// key.
func (s *ListenKeySession) Start(ctx context.Context) (string, error) {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return "", fmt.Errorf("create_listen_key: %w", err)
	}

	go keepListenKeyAlive(ctx, func(refreshCtx context.Context) error {
		return s.client.UpdateListenKey(refreshCtx, key)
	}, func(err error) {
		s.logger.Warn("listen key refresh failed", "error", err)
	})

	return key, nil
}
