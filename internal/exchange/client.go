// Package exchange implements the venue's REST and WebSocket adapter (§6.3):
// a USDM-futures-shaped perpetuals API reached over signed REST calls and two
// WebSocket streams (public market data, authenticated user events).
//
// The REST client (Client) exposes:
//   - Public:  GetContracts, GetHistoricalCandles, GetBook, GetDepth
//   - User:    GetAccountInfo, ChangeLeverage, IsHedgeMode, ChangePositionMode,
//     ChangeMarginType, PlaceOrder, CancelOrder, GetOrder, CreateListenKey,
//     UpdateListenKey
//
// Every request except the two listen-key calls is rate-limited via
// per-category TokenBuckets; all requests are automatically retried on
// transport errors and 5xx/429, and user endpoints are HMAC-SHA256 signed via
// Auth.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"derivbot/internal/command"
	"derivbot/pkg/types"
)

const (
	restBaseURL        = "https://fapi.example-venue.com"
	restTestnetBaseURL = "https://testnet.fapi.example-venue.com"
	wsBaseURL          = "wss://fstream.example-venue.com/ws"
	wsTestnetBaseURL   = "wss://testnet.fstream.example-venue.com/ws"
)

// baseURL picks the production or testnet REST root (§6.4's binance_testnet flag).
func baseURL(testnet bool) string {
	if testnet {
		return restTestnetBaseURL
	}
	return restBaseURL
}

// WSBaseURL picks the production or testnet WebSocket root for NewPublicFeed
// and NewUserFeed, mirroring baseURL's testnet switch.
func WSBaseURL(testnet bool) string {
	if testnet {
		return wsTestnetBaseURL
	}
	return wsBaseURL
}

// Client is the venue's REST API client: a resty HTTP client with rate
// limiting, retry, and HMAC request signing.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client for one strategy's credentials.
func NewClient(testnet bool, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL(testnet)).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange_client"),
	}
}

// wireContract is the venue's exchangeInfo symbol filter shape.
type wireContract struct {
	Symbol            string `json:"symbol"`
	BaseAsset         string `json:"baseAsset"`
	QuoteAsset        string `json:"quoteAsset"`
	PricePrecision    int32  `json:"pricePrecision"`
	QuantityPrecision int32  `json:"quantityPrecision"`
	Filters           []struct {
		FilterType  string `json:"filterType"`
		TickSize    string `json:"tickSize"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"minNotional"`
		Notional    string `json:"notional"`
	} `json:"filters"`
}

// GetContracts fetches every tradeable symbol's trading rules (§6.3).
func (c *Client) GetContracts(ctx context.Context) (map[types.Symbol]types.Contract, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var body struct {
		Symbols []wireContract `json:"symbols"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("get_contracts: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_contracts: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make(map[types.Symbol]types.Contract, len(body.Symbols))
	for _, s := range body.Symbols {
		contract := types.Contract{
			Symbol:           types.Symbol(s.Symbol),
			BaseAsset:        s.BaseAsset,
			QuoteAsset:       s.QuoteAsset,
			PriceDecimals:    s.PricePrecision,
			QuantityDecimals: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				contract.TickSize = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				contract.LotSize = parseDecimal(f.StepSize)
			case "MIN_NOTIONAL":
				// §6 open question 2: newer schemas may rename this field
				// `minNotional`; this adapter reads the `notional` key and
				// falls back to `minNotional` when `notional` is empty.
				if f.Notional != "" {
					contract.MinNotional = parseDecimal(f.Notional)
				} else {
					contract.MinNotional = parseDecimal(f.MinNotional)
				}
			}
		}
		out[contract.Symbol] = contract
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetHistoricalCandles fetches up to limit closed candles for symbol/timeframe,
// optionally starting at startTimeMs (0 means "most recent").
func (c *Client) GetHistoricalCandles(ctx context.Context, symbol types.Symbol, timeframe types.Timeframe, limit int, startTimeMs int64) ([]types.Candle, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetQueryParam("interval", string(timeframe)).
		SetQueryParam("limit", strconv.Itoa(limit))
	if startTimeMs > 0 {
		req.SetQueryParam("startTime", strconv.FormatInt(startTimeMs, 10))
	}

	var rows [][]any
	resp, err := req.SetResult(&rows).Get("/fapi/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("get_historical_candles: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_historical_candles: status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		candle, ok := decodeKlineRow(symbol, timeframe, row)
		if ok {
			candles = append(candles, candle)
		}
	}
	return candles, nil
}

// decodeKlineRow decodes one [open_time, open, high, low, close, volume, ...]
// kline array into a Candle, skipping malformed rows rather than failing the
// whole batch.
func decodeKlineRow(symbol types.Symbol, timeframe types.Timeframe, row []any) (types.Candle, bool) {
	if len(row) < 6 {
		return types.Candle{}, false
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return types.Candle{}, false
	}
	return types.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: int64(openTime),
		Open:      parseAny(row[1]),
		High:      parseAny(row[2]),
		Low:       parseAny(row[3]),
		Close:     parseAny(row[4]),
		Volume:    parseAny(row[5]),
	}, true
}

func parseAny(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	return parseDecimal(s)
}

// GetBook fetches the current best-bid/best-ask for every symbol (§6.3).
func (c *Client) GetBook(ctx context.Context) (map[types.Symbol]types.BookUpdate, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol string `json:"symbol"`
		BidPx  string `json:"bidPrice"`
		AskPx  string `json:"askPrice"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&rows).Get("/fapi/v1/ticker/bookTicker")
	if err != nil {
		return nil, fmt.Errorf("get_book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_book: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make(map[types.Symbol]types.BookUpdate, len(rows))
	for _, r := range rows {
		out[types.Symbol(r.Symbol)] = types.BookUpdate{
			Symbol: types.Symbol(r.Symbol),
			Bid:    parseDecimal(r.BidPx),
			Ask:    parseDecimal(r.AskPx),
		}
	}
	return out, nil
}

// GetDepth fetches a depth snapshot for symbol, capped at limit levels/side.
func (c *Client) GetDepth(ctx context.Context, symbol types.Symbol, limit int) (types.DepthUpdate, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return types.DepthUpdate{}, err
	}

	var body struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&body).
		Get("/fapi/v1/depth")
	if err != nil {
		return types.DepthUpdate{}, fmt.Errorf("get_depth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.DepthUpdate{}, fmt.Errorf("get_depth: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.DepthUpdate{
		Symbol:        symbol,
		FirstUpdateID: body.LastUpdateID,
		LastUpdateID:  body.LastUpdateID,
		Bids:          decodeLevels(body.Bids),
		Asks:          decodeLevels(body.Asks),
		Timestamp:     nowMillis(),
	}, nil
}

func decodeLevels(rows [][]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: parseDecimal(r[0]), Quantity: parseDecimal(r[1])})
	}
	return out
}

// signedGet issues a signed GET with the given query params already set.
func (c *Client) signedGet(ctx context.Context, path string, query url.Values, result any) (*resty.Response, error) {
	signed := c.auth.Sign(query, 5*time.Second)
	return c.http.R().SetContext(ctx).
		SetHeader(APIKeyHeader, c.auth.creds.APIKey).
		SetQueryString(signed).
		SetResult(result).
		Get(path)
}

// signedRequest issues a signed POST/PUT/DELETE with the given form body.
func (c *Client) signedRequest(ctx context.Context, method, path string, query url.Values, result any) (*resty.Response, error) {
	signed := c.auth.Sign(query, 5*time.Second)
	req := c.http.R().SetContext(ctx).
		SetHeader(APIKeyHeader, c.auth.creds.APIKey).
		SetBody(signed).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetResult(result)
	switch method {
	case http.MethodPost:
		return req.Post(path)
	case http.MethodPut:
		return req.Put(path)
	case http.MethodDelete:
		return req.Delete(path)
	default:
		return req.Execute(method, path)
	}
}

// GetAccountInfo fetches the wallet balances and open positions (§6.3).
func (c *Client) GetAccountInfo(ctx context.Context) (*types.Account, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	var body struct {
		Assets []struct {
			Asset              string `json:"asset"`
			WalletBalance      string `json:"walletBalance"`
			AvailableBalance   string `json:"availableBalance"`
		} `json:"assets"`
		Positions []struct {
			Symbol         string `json:"symbol"`
			PositionSide   string `json:"positionSide"`
			PositionAmt    string `json:"positionAmt"`
			EntryPrice     string `json:"entryPrice"`
			Isolated       bool   `json:"isolated"`
			IsolatedMargin string `json:"isolatedMargin"`
			Leverage       string `json:"leverage"`
		} `json:"positions"`
	}

	resp, err := c.signedGet(ctx, "/fapi/v2/account", url.Values{}, &body)
	if err != nil {
		return nil, fmt.Errorf("get_account_info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_account_info: status %d: %s", resp.StatusCode(), resp.String())
	}

	account := &types.Account{Assets: make(map[string]decimal.Decimal, len(body.Assets))}
	for _, a := range body.Assets {
		account.Assets[a.Asset] = parseDecimal(a.WalletBalance)
	}
	for _, p := range body.Positions {
		qty := parseDecimal(p.PositionAmt).Abs()
		if qty.IsZero() {
			continue
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		account.Positions = append(account.Positions, types.AccountPosition{
			Symbol:     types.Symbol(p.Symbol),
			Side:       types.PositionSide(p.PositionSide),
			Quantity:   qty,
			EntryPrice: parseDecimal(p.EntryPrice),
			Isolated:   p.Isolated,
			Margin:     parseDecimal(p.IsolatedMargin),
			Leverage:   int32(leverage),
		})
	}
	return account, nil
}

// GetPositions returns the venue's current nonzero positions, the view
// reconcile() compares local storage against (§4.8). It's the position slice
// of the same account snapshot GetAccountInfo returns.
func (c *Client) GetPositions(ctx context.Context) ([]types.AccountPosition, error) {
	account, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return account.Positions, nil
}

// IsHedgeMode reports whether the account is in dual (hedge) position mode.
func (c *Client) IsHedgeMode(ctx context.Context) (bool, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return false, err
	}
	var body struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	resp, err := c.signedGet(ctx, "/fapi/v1/positionSide/dual", url.Values{}, &body)
	if err != nil {
		return false, fmt.Errorf("is_hedge_mode: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("is_hedge_mode: status %d: %s", resp.StatusCode(), resp.String())
	}
	return body.DualSidePosition, nil
}

// ChangePositionMode switches the account between one-way and hedge mode.
// A structurally false/empty success is an OperationFailed per §7 — startup
// aborts rather than continuing with an ambiguous mode.
func (c *Client) ChangePositionMode(ctx context.Context, hedge bool) error {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}
	query := url.Values{"dualSidePosition": {strconv.FormatBool(hedge)}}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", query, &body)
	if err != nil {
		return fmt.Errorf("change_position_mode: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("change_position_mode: status %d: %s", resp.StatusCode(), resp.String())
	}
	if body.Code != 0 {
		return fmt.Errorf("change_position_mode: operation_failed: %s", body.Msg)
	}
	return nil
}

// ChangeLeverage sets the account's leverage for symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error {
	if leverage < 1 || leverage > 25 {
		return fmt.Errorf("change_leverage: leverage %d out of [1,25]", leverage)
	}
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}
	query := url.Values{
		"symbol":   {string(symbol)},
		"leverage": {strconv.Itoa(leverage)},
	}
	var body struct {
		Leverage int `json:"leverage"`
	}
	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", query, &body)
	if err != nil {
		return fmt.Errorf("change_leverage(%s): %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("change_leverage(%s): status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return nil
}

// ChangeMarginType sets symbol's margin mode to isolated or crossed.
func (c *Client) ChangeMarginType(ctx context.Context, symbol types.Symbol, marginType types.MarginType) error {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}
	query := url.Values{
		"symbol":     {string(symbol)},
		"marginType": {string(marginType)},
	}
	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/marginType", query, &struct{}{})
	if err != nil {
		return fmt.Errorf("change_margin_type(%s): %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("change_margin_type(%s): status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return nil
}

// wireOrder is the venue's order response/status shape.
type wireOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

func (w wireOrder) toOrder() *types.Order {
	return &types.Order{
		ID:            strconv.FormatInt(w.OrderID, 10),
		ClientOrderID: w.ClientOrderID,
		Symbol:        types.Symbol(w.Symbol),
		Status:        decodeOrderStatus(w.Status),
		Type:          types.OrderTypeMarket,
		Side:          types.Side(w.Side),
		PositionSide:  types.PositionSide(w.PositionSide),
		Quantity:      parseDecimal(w.ExecutedQty),
		EntryPrice:    parseDecimal(w.AvgPrice),
		Timestamp:     w.UpdateTime,
	}
}

func decodeOrderStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderNew
	case "PARTIALLY_FILLED":
		return types.OrderPartiallyFilled
	case "FILLED":
		return types.OrderFilled
	case "CANCELED":
		return types.OrderCanceled
	case "EXPIRED":
		return types.OrderExpired
	case "REJECTED":
		return types.OrderRejected
	default:
		return types.OrderNew
	}
}

// PlaceOrder submits a MARKET order (command.Venue).
func (c *Client) PlaceOrder(ctx context.Context, req command.PlaceOrderRequest) (*types.Order, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	orderType := req.Type
	if orderType == "" {
		orderType = types.OrderTypeMarket
	}
	query := url.Values{
		"symbol":           {string(req.Contract)},
		"side":             {string(req.OrderSide)},
		"positionSide":     {string(req.PositionSide)},
		"type":             {string(orderType)},
		"quantity":         {req.Quantity.String()},
		"newClientOrderId": {req.ClientOrderID},
	}

	var wo wireOrder
	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", query, &wo)
	if err != nil {
		return nil, fmt.Errorf("place_order: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Warn("place_order rejected", "status", resp.StatusCode(), "body", resp.String())
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("place_order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return wo.toOrder(), nil
}

// CancelOrder cancels a single resting order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}
	query := url.Values{
		"symbol":  {string(symbol)},
		"orderId": {orderID},
	}
	var wo wireOrder
	resp, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", query, &wo)
	if err != nil {
		return fmt.Errorf("cancel_order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel_order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetOrder polls the current status of a previously placed order
// (command.Venue) — what CommandHandler uses to wait for a fill.
func (c *Client) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (*types.Order, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	query := url.Values{
		"symbol":  {string(symbol)},
		"orderId": {orderID},
	}
	var wo wireOrder
	resp, err := c.signedGet(ctx, "/fapi/v1/order", query, &wo)
	if err != nil {
		return nil, fmt.Errorf("get_order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return wo.toOrder(), nil
}

// CreateListenKey bootstraps a user-stream listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var body struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeader(APIKeyHeader, c.auth.creds.APIKey).
		SetResult(&body).
		Post("/fapi/v1/listenKey")
	if err != nil {
		return "", fmt.Errorf("create_listen_key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create_listen_key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return body.ListenKey, nil
}

// UpdateListenKey extends the listen key's lifetime by another 60 minutes.
func (c *Client) UpdateListenKey(ctx context.Context, listenKey string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader(APIKeyHeader, c.auth.creds.APIKey).
		SetQueryParam("listenKey", listenKey).
		Put("/fapi/v1/listenKey")
	if err != nil {
		return fmt.Errorf("update_listen_key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update_listen_key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
