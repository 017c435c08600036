// ws.go implements the venue's two WebSocket streams (§6.3).
//
//   - PublicFeed: subscribes per-symbol to {symbol}@aggTrade, {symbol}@bookTicker
//     and {symbol}@depth, normalizing each into TradeUpdate/BookUpdate/DepthUpdate.
//
//   - UserFeed: subscribes with a listen key, normalizing account_update,
//     account_config_update and order_trade_update events for one strategy's
//     own credentials.
//
// Both feeds auto-reconnect with exponential-with-jitter backoff (initial 5s,
// capped at 30s — matching the line_client's websocket base client), and a
// read deadline (90s) detects silent server failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"derivbot/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	initialBackoff   = 5 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// PublicFeed streams normalized market data for a fixed set of symbols over
// one WebSocket connection.
type PublicFeed struct {
	url     string
	symbols []types.Symbol
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	tradeCh chan types.TradeUpdate
	bookCh  chan types.BookUpdate
	depthCh chan types.DepthUpdate
}

// NewPublicFeed creates a market-data feed for symbols against wsBaseURL.
func NewPublicFeed(wsBaseURL string, symbols []types.Symbol, logger *slog.Logger) *PublicFeed {
	return &PublicFeed{
		url:     wsBaseURL,
		symbols: symbols,
		logger:  logger.With("component", "public_feed"),
		tradeCh: make(chan types.TradeUpdate, eventBufferSize),
		bookCh:  make(chan types.BookUpdate, eventBufferSize),
		depthCh: make(chan types.DepthUpdate, eventBufferSize),
	}
}

// Trades returns a read-only channel of normalized trade events.
func (f *PublicFeed) Trades() <-chan types.TradeUpdate { return f.tradeCh }

// Books returns a read-only channel of normalized best-bid/ask events.
func (f *PublicFeed) Books() <-chan types.BookUpdate { return f.bookCh }

// Depths returns a read-only channel of normalized depth diffs/snapshots.
func (f *PublicFeed) Depths() <-chan types.DepthUpdate { return f.depthCh }

// streamNames builds the combined-stream subscription list: {symbol}@aggTrade,
// {symbol}@bookTicker, {symbol}@depth for every configured symbol (§6.3).
func (f *PublicFeed) streamNames() []string {
	names := make([]string, 0, len(f.symbols)*3)
	for _, s := range f.symbols {
		lower := strings.ToLower(string(s))
		names = append(names, lower+"@aggTrade", lower+"@bookTicker", lower+"@depth")
	}
	return names
}

// Run connects and maintains the connection with auto-reconnect. Each
// reconnect re-subscribes to every configured stream and waits for the
// subscription reply before calling onReconnect or relaying any event (§4.1).
// Blocks until ctx is cancelled; the caller should publish an `alive`/`reset`
// signal around each call (internal/feed owns that bookkeeping).
func (f *PublicFeed) Run(ctx context.Context, onReconnect func()) error {
	return runWithBackoff(ctx, f.logger, func() error {
		return f.connectAndRead(ctx, onReconnect)
	})
}

func (f *PublicFeed) connectAndRead(ctx context.Context, onReconnect func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.setConn(conn)
	defer f.clearConn(conn)

	if err := f.writeJSON(map[string]any{
		"method": "SUBSCRIBE",
		"params": f.streamNames(),
		"id":     1,
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	// Messages read before the reply to the SUBSCRIBE request (id 1) are not relayed.
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscribe reply: %w", err)
		}
		var reply struct {
			ID *int `json:"id"`
		}
		if json.Unmarshal(msg, &reply) == nil && reply.ID != nil && *reply.ID == 1 {
			break
		}
	}
	f.logger.Info("public feed connected", "symbols", len(f.symbols))
	if onReconnect != nil {
		onReconnect()
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, f.logger, f.writeMessage)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *PublicFeed) dispatch(data []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	payload := data
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Stream != "" {
		payload = envelope.Data
	}

	var kind struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(payload, &kind); err != nil {
		f.logger.Debug("ignoring non-json public event")
		return
	}

	switch kind.EventType {
	case "aggTrade":
		var w struct {
			Symbol    string `json:"s"`
			Price     string `json:"p"`
			Quantity  string `json:"q"`
			TradeTime int64  `json:"T"`
			Maker     bool   `json:"m"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			f.logger.Error("unmarshal aggTrade", "error", err)
			return
		}
		trade := types.TradeUpdate{
			Symbol: types.Symbol(w.Symbol), Price: parseDecimal(w.Price), Quantity: parseDecimal(w.Quantity),
			Timestamp: w.TradeTime, IsBuyerMaker: w.Maker,
		}
		select {
		case f.tradeCh <- trade:
		default:
			f.logger.Warn("trade channel full, dropping event", "symbol", trade.Symbol)
		}

	case "bookTicker":
		var w struct {
			Symbol string `json:"s"`
			BidPx  string `json:"b"`
			AskPx  string `json:"a"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			f.logger.Error("unmarshal bookTicker", "error", err)
			return
		}
		book := types.BookUpdate{Symbol: types.Symbol(w.Symbol), Bid: parseDecimal(w.BidPx), Ask: parseDecimal(w.AskPx)}
		select {
		case f.bookCh <- book:
		default:
			f.logger.Warn("book channel full, dropping event", "symbol", book.Symbol)
		}

	case "depthUpdate":
		var w struct {
			Symbol   string     `json:"s"`
			FirstID  int64      `json:"U"`
			FinalID  int64      `json:"u"`
			Bids     [][]string `json:"b"`
			Asks     [][]string `json:"a"`
			EventTme int64      `json:"E"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			f.logger.Error("unmarshal depthUpdate", "error", err)
			return
		}
		depth := types.DepthUpdate{
			Symbol: types.Symbol(w.Symbol), FirstUpdateID: w.FirstID, LastUpdateID: w.FinalID,
			Bids: decodeLevels(w.Bids), Asks: decodeLevels(w.Asks), Timestamp: w.EventTme,
		}
		select {
		case f.depthCh <- depth:
		default:
			f.logger.Warn("depth channel full, dropping event", "symbol", depth.Symbol)
		}

	default:
		f.logger.Debug("unknown public event type", "type", kind.EventType)
	}
}

func (f *PublicFeed) setConn(c *websocket.Conn) {
	f.connMu.Lock()
	f.conn = c
	f.connMu.Unlock()
}

func (f *PublicFeed) clearConn(c *websocket.Conn) {
	f.connMu.Lock()
	if f.conn == c {
		f.conn = nil
	}
	f.connMu.Unlock()
	c.Close()
}

func (f *PublicFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("public feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *PublicFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("public feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// UserFeed streams account_update/account_config_update/order_trade_update
// events for one strategy's listen key.
type UserFeed struct {
	url       string
	listenKey string
	logger    *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	accountCh     chan types.AccountPosition
	orderUpdateCh chan types.Order
}

// NewUserFeed creates a user-stream feed. The listen key is appended to
// wsBaseURL as the final path segment, the venue's own convention.
func NewUserFeed(wsBaseURL, listenKey string, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		url:           strings.TrimRight(wsBaseURL, "/") + "/" + listenKey,
		listenKey:     listenKey,
		logger:        logger.With("component", "user_feed"),
		accountCh:     make(chan types.AccountPosition, eventBufferSize),
		orderUpdateCh: make(chan types.Order, eventBufferSize),
	}
}

// AccountUpdates returns a read-only channel of position patches from
// account_update events (§6.3, consumed by Strategy.OnAccountUpdate).
func (f *UserFeed) AccountUpdates() <-chan types.AccountPosition { return f.accountCh }

// OrderUpdates returns a read-only channel of order-lifecycle patches from
// order_trade_update events (consumed by command.Handler.UpdateOrder).
func (f *UserFeed) OrderUpdates() <-chan types.Order { return f.orderUpdateCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	return runWithBackoff(ctx, f.logger, func() error {
		return f.connectAndRead(ctx)
	})
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("user feed connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, f.logger, func(msgType int, data []byte) error {
		f.connMu.Lock()
		defer f.connMu.Unlock()
		if f.conn == nil {
			return fmt.Errorf("user feed not connected")
		}
		f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return f.conn.WriteMessage(msgType, data)
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *UserFeed) dispatch(data []byte) {
	var kind struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		f.logger.Debug("ignoring non-json user event")
		return
	}

	switch kind.EventType {
	case string(types.EntityAccountUpdate):
		var w struct {
			Account struct {
				Positions []struct {
					Symbol       string `json:"s"`
					PositionSide string `json:"ps"`
					Amount       string `json:"pa"`
					EntryPrice   string `json:"ep"`
				} `json:"P"`
			} `json:"a"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			f.logger.Error("unmarshal account_update", "error", err)
			return
		}
		for _, p := range w.Account.Positions {
			pos := types.AccountPosition{
				Symbol: types.Symbol(p.Symbol), Side: types.PositionSide(p.PositionSide),
				Quantity: parseDecimal(p.Amount).Abs(), EntryPrice: parseDecimal(p.EntryPrice),
			}
			select {
			case f.accountCh <- pos:
			default:
				f.logger.Warn("account channel full, dropping event", "symbol", pos.Symbol)
			}
		}

	case string(types.EntityOrderTradeUpdate):
		var w struct {
			Order wireUserOrder `json:"o"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			f.logger.Error("unmarshal order_trade_update", "error", err)
			return
		}
		order := w.Order.toOrder()
		select {
		case f.orderUpdateCh <- order:
		default:
			f.logger.Warn("order channel full, dropping event", "order_id", order.ID)
		}

	case string(types.EntityAccountConfigUpdate):
		f.logger.Debug("account_config_update received")

	default:
		f.logger.Debug("unknown user event type", "type", kind.EventType)
	}
}

// wireUserOrder is the order_trade_update payload's inner "o" object.
type wireUserOrder struct {
	OrderID       int64  `json:"i"`
	ClientOrderID string `json:"c"`
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	PositionSide  string `json:"ps"`
	Status        string `json:"X"`
	FilledQty     string `json:"z"`
	AvgPrice      string `json:"ap"`
	TradeTime     int64  `json:"T"`
}

func (w wireUserOrder) toOrder() types.Order {
	return types.Order{
		ID: strconvItoa64(w.OrderID), ClientOrderID: w.ClientOrderID, Symbol: types.Symbol(w.Symbol),
		Status: decodeOrderStatus(w.Status), Side: types.Side(w.Side), PositionSide: types.PositionSide(w.PositionSide),
		Quantity: parseDecimal(w.FilledQty), EntryPrice: parseDecimal(w.AvgPrice), Timestamp: w.TradeTime,
	}
}

func strconvItoa64(n int64) string {
	return fmt.Sprintf("%d", n)
}

// pingLoop sends a keepalive PING on interval until ctx is cancelled.
func pingLoop(ctx context.Context, logger *slog.Logger, write func(msgType int, data []byte) error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// runWithBackoff retries connect forever with exponential-with-jitter backoff
// (initial 5s, capped 30s), stopping only when ctx is cancelled.
func runWithBackoff(ctx context.Context, logger *slog.Logger, connect func() error) error {
	backoff := initialBackoff
	for {
		err := connect()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		logger.Warn("websocket disconnected, reconnecting", "error", err, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}
