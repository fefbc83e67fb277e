// Package bybit provides the Bybit V5 linear-perpetual client used by runners
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
	"rebuybot/internal/exchange/base"
	apperrors "rebuybot/pkg/errors"
	httpx "rebuybot/pkg/http"
	"rebuybot/pkg/tradingutils"
)

const (
	defaultBybitURL = "https://api.bybit.com"
	testnetBybitURL = "https://api-testnet.bybit.com"

	categoryLinear = "linear"
)

// Bybit retCodes with a dedicated meaning
// https://bybit-exchange.github.io/docs/v5/error
const (
	codeLeverageNotModified = 110043
	codeTPSLNotModified     = 34040
)

// BybitExchange implements core.IExchange for one Bybit account
type BybitExchange struct {
	*base.BaseAdapter
	apiKey     string
	apiSecret  core.Secret
	recvWindow string
	now        func() time.Time

	// filters seen by GetInstrumentFilters, used to render order payloads
	filtersMu sync.RWMutex
	filters   map[string]core.InstrumentFilters
}

var _ core.IExchange = (*BybitExchange)(nil)

// NewBybitExchange creates a client bound to creds
func NewBybitExchange(cfg *config.ExchangeConfig, creds core.Credentials, logger core.ILogger) *BybitExchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBybitURL
		if cfg.Testnet {
			baseURL = testnetBybitURL
		}
	}

	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5 * time.Second
	}

	e := &BybitExchange{
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		recvWindow: strconv.FormatInt(recv.Milliseconds(), 10),
		now:        time.Now,
		filters:    make(map[string]core.InstrumentFilters),
	}

	client := httpx.NewClient(baseURL, cfg.Timeout, httpx.SignerFunc(e.SignRequest),
		httpx.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	e.BaseAdapter = base.NewBaseAdapter("bybit", client, logger.WithField("account_id", creds.AccountID))

	return e
}

// SignRequest adds authentication headers to the request
func (e *BybitExchange) SignRequest(req *http.Request, payload []byte) error {
	timestamp := strconv.FormatInt(e.now().UnixMilli(), 10)

	// signature = HMAC_SHA256(timestamp + key + recv_window + payload, secret)
	mac := hmac.New(sha256.New, []byte(e.apiSecret.Reveal()))
	mac.Write([]byte(timestamp + e.apiKey + e.recvWindow))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", e.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", e.recvWindow)

	return nil
}

type envelope struct {
	RetCode    int             `json:"retCode"`
	RetMsg     string          `json:"retMsg"`
	Result     json.RawMessage `json:"result"`
	RetExtInfo json.RawMessage `json:"retExtInfo"`
}

func mapRetCode(code int) error {
	switch code {
	case codeLeverageNotModified, codeTPSLNotModified:
		return apperrors.ErrNotModified
	case 10001: // Params error
		return apperrors.ErrInvalidOrderParameter
	case 10002: // Request time exceeds the window
		return apperrors.ErrTimestampOutOfBounds
	case 10003, 10004, 10005, 10010: // Invalid key, bad sign, permission denied, unmatched IP
		return apperrors.ErrAuthenticationFailed
	case 10006, 10018: // Too many visits
		return apperrors.ErrRateLimitExceeded
	case 10016: // Server error
		return apperrors.ErrSystemOverload
	case 110007, 110012, 110045: // Insufficient available balance
		return apperrors.ErrInsufficientFunds
	case 10029, 110074: // Symbol not whitelisted, closed contract
		return apperrors.ErrInvalidSymbol
	case 110017, 110094, 130006: // Reduce-only / below min order value
		return apperrors.ErrInvalidOrderParameter
	}
	return nil
}

func (e *BybitExchange) parseError(code int, msg string) error {
	if sentinel := mapRetCode(code); sentinel != nil {
		return fmt.Errorf("%w: bybit %d %s", sentinel, code, msg)
	}
	return fmt.Errorf("bybit error: %s (%d)", msg, code)
}

func (e *BybitExchange) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", apperrors.ErrAuthenticationFailed, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", apperrors.ErrSystemOverload, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

func (e *BybitExchange) decode(ctx context.Context, body []byte, err error, out interface{}) (*envelope, error) {
	if err != nil {
		return nil, e.transportError(ctx, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bybit: malformed response: %w", err)
	}
	if env.RetCode != 0 {
		return &env, e.parseError(env.RetCode, env.RetMsg)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &env, fmt.Errorf("bybit: malformed result: %w", err)
		}
	}
	return &env, nil
}

func (e *BybitExchange) get(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	defer e.Observe(ctx, op, time.Now())
	body, err := e.HTTP.Get(ctx, path, params)
	_, err = e.decode(ctx, body, err, out)
	return err
}

func (e *BybitExchange) post(ctx context.Context, op, path string, req interface{}, out interface{}) (*envelope, error) {
	defer e.Observe(ctx, op, time.Now())
	body, err := e.HTTP.Post(ctx, path, req)
	return e.decode(ctx, body, err, out)
}

func linearQuery(symbol string) url.Values {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("symbol", symbol)
	return q
}

// GetPrice returns the last traded price
func (e *BybitExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := e.get(ctx, "price", "/v5/market/tickers", linearQuery(symbol), &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no ticker for %s", apperrors.ErrInvalidSymbol, symbol)
	}

	price := e.ParseDecimal(result.List[0].LastPrice)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("bybit: invalid last price %q for %s", result.List[0].LastPrice, symbol)
	}
	return price, nil
}

type rawPosition struct {
	Symbol        string `json:"symbol"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	TakeProfit    string `json:"takeProfit"`
	Leverage      string `json:"leverage"`
	PositionIdx   int    `json:"positionIdx"`
}

// GetPosition returns the one-way position for symbol; an empty list is a flat position
func (e *BybitExchange) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	var result struct {
		List []rawPosition `json:"list"`
	}
	if err := e.get(ctx, "position", "/v5/position/list", linearQuery(symbol), &result); err != nil {
		return nil, err
	}

	pos := &core.Position{Symbol: symbol}
	for _, raw := range result.List {
		if raw.Symbol != symbol || raw.PositionIdx != 0 {
			continue
		}
		pos.Size = e.ParseDecimal(raw.Size)
		pos.AvgPrice = e.ParseDecimal(raw.AvgPrice)
		pos.UnrealizedPnL = e.ParseDecimal(raw.UnrealisedPnl)
		pos.TakeProfit = e.ParseDecimal(raw.TakeProfit)
		pos.Leverage = int(e.ParseDecimal(raw.Leverage).IntPart())
		break
	}
	return pos, nil
}

// GetLeverage reads the configured leverage from the position list
func (e *BybitExchange) GetLeverage(ctx context.Context, symbol string) (int, error) {
	pos, err := e.GetPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return pos.Leverage, nil
}

// SetLeverage sets both sides to leverage; an unchanged value yields ErrNotModified
func (e *BybitExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	_, err := e.post(ctx, "set_leverage", "/v5/position/set-leverage", map[string]string{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
	return err
}

// GetInstrumentFilters returns lot step, min quantity and tick size.
// The lot step is qtyStep, falling back to minOrderQty when absent.
func (e *BybitExchange) GetInstrumentFilters(ctx context.Context, symbol string) (*core.InstrumentFilters, error) {
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := e.get(ctx, "instrument", "/v5/market/instruments-info", linearQuery(symbol), &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("%w: no instrument info for %s", apperrors.ErrInvalidSymbol, symbol)
	}

	s := result.List[0]
	filters := &core.InstrumentFilters{
		Symbol:      symbol,
		LotStep:     e.ParseDecimal(s.LotSizeFilter.QtyStep),
		MinOrderQty: e.ParseDecimal(s.LotSizeFilter.MinOrderQty),
		TickSize:    e.ParseDecimal(s.PriceFilter.TickSize),
	}
	if !filters.LotStep.IsPositive() {
		filters.LotStep = filters.MinOrderQty
	}
	if !filters.LotStep.IsPositive() || !filters.TickSize.IsPositive() {
		return nil, fmt.Errorf("bybit: incomplete filters for %s (lot %s, tick %s)", symbol, filters.LotStep, filters.TickSize)
	}

	e.filtersMu.Lock()
	e.filters[symbol] = *filters
	e.filtersMu.Unlock()
	return filters, nil
}

// formatQty renders qty with the symbol's lot step precision once filters are known
func (e *BybitExchange) formatQty(symbol string, qty decimal.Decimal) string {
	e.filtersMu.RLock()
	f, ok := e.filters[symbol]
	e.filtersMu.RUnlock()
	if !ok {
		return qty.String()
	}
	return tradingutils.FormatToStep(qty, f.LotStep)
}

// formatPrice is formatQty for prices and the tick size
func (e *BybitExchange) formatPrice(symbol string, price decimal.Decimal) string {
	e.filtersMu.RLock()
	f, ok := e.filters[symbol]
	e.filtersMu.RUnlock()
	if !ok {
		return price.String()
	}
	return tradingutils.FormatToStep(price, f.TickSize)
}

// GetEquity returns the unified account's total equity in USD
func (e *BybitExchange) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	if err := e.get(ctx, "equity", "/v5/account/wallet-balance", q, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: empty wallet balance")
	}
	return e.ParseDecimal(result.List[0].TotalEquity), nil
}

// CancelAllOrders cancels every open order on symbol
func (e *BybitExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := e.post(ctx, "cancel_all", "/v5/order/cancel-all", map[string]string{
		"category": categoryLinear,
		"symbol":   symbol,
	}, nil)
	return err
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

func clientID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// PlaceMarketOrder submits a market order, attaching a take-profit when set
func (e *BybitExchange) PlaceMarketOrder(ctx context.Context, req *core.MarketOrder) (*core.OrderAck, error) {
	body := map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   "Market",
		"qty":         e.formatQty(req.Symbol, req.Quantity),
		"orderLinkId": clientID(req.ClientOrderID),
	}
	if req.TakeProfit.IsPositive() {
		body["takeProfit"] = e.formatPrice(req.Symbol, req.TakeProfit)
		body["tpslMode"] = "Full"
	}

	var result orderResult
	if _, err := e.post(ctx, "market_order", "/v5/order/create", body, &result); err != nil {
		return nil, err
	}
	return &core.OrderAck{OrderID: result.OrderID, ClientOrderID: result.OrderLinkID}, nil
}

// PlaceBatchLimitOrders submits up to 10 GTC limit orders in one request.
// Per-order rejections are returned as ErrOrderRejected alongside the accepted acks.
func (e *BybitExchange) PlaceBatchLimitOrders(ctx context.Context, symbol string, orders []core.LimitOrder) ([]core.OrderAck, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	request := make([]map[string]string, 0, len(orders))
	for _, o := range orders {
		request = append(request, map[string]string{
			"symbol":      symbol,
			"side":        string(o.Side),
			"orderType":   "Limit",
			"qty":         e.formatQty(symbol, o.Quantity),
			"price":       e.formatPrice(symbol, o.Price),
			"timeInForce": "GTC",
			"orderLinkId": clientID(o.ClientOrderID),
		})
	}

	var result struct {
		List []orderResult `json:"list"`
	}
	env, err := e.post(ctx, "batch_order", "/v5/order/create-batch", map[string]interface{}{
		"category": categoryLinear,
		"request":  request,
	}, &result)
	if err != nil {
		return nil, err
	}

	var ext struct {
		List []struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"list"`
	}
	if len(env.RetExtInfo) > 0 {
		_ = json.Unmarshal(env.RetExtInfo, &ext)
	}

	acks := make([]core.OrderAck, 0, len(result.List))
	var rejected []string
	for i, r := range result.List {
		if i < len(ext.List) && ext.List[i].Code != 0 {
			rejected = append(rejected, fmt.Sprintf("#%d %s (%d)", i, ext.List[i].Msg, ext.List[i].Code))
			continue
		}
		acks = append(acks, core.OrderAck{OrderID: r.OrderID, ClientOrderID: r.OrderLinkID})
	}

	if len(rejected) > 0 {
		return acks, fmt.Errorf("%w: %d of %d batch orders: %v", apperrors.ErrOrderRejected, len(rejected), len(orders), rejected)
	}
	return acks, nil
}

// SetTakeProfit sets the full-position take-profit; an unchanged value yields ErrNotModified
func (e *BybitExchange) SetTakeProfit(ctx context.Context, symbol string, price decimal.Decimal) error {
	_, err := e.post(ctx, "trading_stop", "/v5/position/trading-stop", map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
		"takeProfit":  e.formatPrice(symbol, price),
	}, nil)
	return err
}
