package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Credentials is the API key/secret pair one Strategy's venue session signs
// with (§6.4: "per strategy: id, name, credentials, ..."). Each Strategy owns
// its own Client built from its own Credentials.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Auth signs outgoing user-REST requests with HMAC-SHA256 over the canonical
// form-urlencoded query, the way the venue's signed endpoints require (§6.3):
// "signature is HMAC-SHA256 over the canonical form-urlencoded query (opaque
// to this spec)". Auth holds only the credentials; the user stream's listen
// key is managed by ListenKeySession.
type Auth struct {
	creds Credentials
}

// NewAuth builds an Auth from one strategy's credentials.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// APIKeyHeader is the header name the venue expects the API key under.
const APIKeyHeader = "X-VENUE-APIKEY"

// Sign appends timestamp and signature params to query and returns the
// canonical form-urlencoded string ready to send as the request body/query.
// recvWindow is omitted when zero (venue default applies).
func (a *Auth) Sign(query url.Values, recvWindow time.Duration) string {
	query.Set("timestamp", strconv.FormatInt(nowMillis(), 10))
	if recvWindow > 0 {
		query.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}

	canonical := query.Encode()
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(canonical))
	sig := hex.EncodeToString(mac.Sum(nil))

	query.Set("signature", sig)
	return query.Encode()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// listenKeyLifetime is how long a listen key stays valid without a keepalive
// ping; the user stream must refresh well inside it (§6.3).
const listenKeyLifetime = 60 * time.Minute

// listenKeyRefreshInterval is how often UserFeed pings the venue to extend
// the listen key's lifetime — comfortably inside the 60-minute window (§6.3:
// "refreshed every ≤ 45 min within its 60 min lifetime").
const listenKeyRefreshInterval = 45 * time.Minute

// keepListenKeyAlive periodically calls refresh until ctx is cancelled,
// logging (not failing) on transient refresh errors — a lapsed listen key
// only degrades the user stream, it never aborts the strategy.
func keepListenKeyAlive(ctx context.Context, refresh func(context.Context) error, onError func(error)) {
	ticker := time.NewTicker(listenKeyRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refresh(ctx); err != nil {
				onError(fmt.Errorf("refresh listen key: %w", err))
			}
		}
	}
}
