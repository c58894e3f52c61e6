package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alert-trader/internal/market"
	"alert-trader/internal/sizing"
)

const (
	bookTickerPath   = "/api/v3/ticker/bookTicker"
	accountPath      = "/api/v3/account"
	exchangeInfoPath = "/api/v3/exchangeInfo"
	orderPath        = "/api/v3/order"

	apiKeyHeader = "X-MBX-APIKEY"
)

// Filter values used when the exchange reports a missing or non-positive one.
var (
	DefaultStepSize    = decimal.RequireFromString("0.000001")
	DefaultMinQty      = decimal.RequireFromString("0.00001")
	DefaultMinNotional = decimal.NewFromInt(5)
)

var two = decimal.NewFromInt(2)

// BinanceOptions parameterise the Binance spot client.
type BinanceOptions struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	RecvWindow time.Duration
	Timeout    time.Duration
	UserAgent  string
}

// Binance implements Capability against the Binance spot REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
	newID   func() string
}

// NewBinance constructs a Binance client.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
		newID:   func() string { return "at-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28] },
	}
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// Prices fetches book tickers and returns (bid+ask)/2 per symbol. Stablecoin
// pairs are answered locally with 1.
func (b *Binance) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	remote := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if IsStablePair(s) {
			out[s] = decimal.NewFromInt(1)
			continue
		}
		remote = append(remote, s)
	}
	if len(remote) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("symbols", symbolsParam(remote))

	var tickers []bookTicker
	if err := b.do(ctx, http.MethodGet, bookTickerPath, params, false, &tickers); err != nil {
		return nil, fmt.Errorf("fetch book tickers: %w", err)
	}

	for _, t := range tickers {
		mid, err := midPrice(t.BidPrice, t.AskPrice)
		if err != nil {
			b.logger.Warn().Str("symbol", t.Symbol).Err(err).Msg("skip book ticker")
			continue
		}
		out[strings.ToUpper(t.Symbol)] = mid
	}
	return out, nil
}

// midPrice averages bid and ask, falling back to whichever side is positive.
func midPrice(bidText, askText string) (decimal.Decimal, error) {
	bid, err := decimal.NewFromString(bidText)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(askText)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ask: %w", err)
	}
	switch {
	case bid.IsPositive() && ask.IsPositive():
		return bid.Add(ask).Div(two), nil
	case bid.IsPositive():
		return bid, nil
	case ask.IsPositive():
		return ask, nil
	default:
		return decimal.Decimal{}, errors.New("empty book")
	}
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balances fetches free balances of every non-empty asset.
func (b *Binance) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	var resp accountResponse
	if err := b.do(ctx, http.MethodGet, accountPath, params, true, &resp); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(resp.Balances))
	for _, bal := range resp.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, fmt.Errorf("parse %s free balance: %w", bal.Asset, err)
		}
		out[strings.ToUpper(bal.Asset)] = free
	}
	return out, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// Filters fetches LOT_SIZE and NOTIONAL filters. Missing or non-positive
// values fall back to the package defaults.
func (b *Binance) Filters(ctx context.Context, symbols []string) (map[string]market.Filter, error) {
	params := url.Values{}
	if len(symbols) > 0 {
		params.Set("symbols", symbolsParam(symbols))
	}

	var info exchangeInfoResponse
	if err := b.do(ctx, http.MethodGet, exchangeInfoPath, params, false, &info); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	out := make(map[string]market.Filter, len(info.Symbols))
	for _, s := range info.Symbols {
		var step, minQty, minNotional string
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				step, minQty = f.StepSize, f.MinQty
			case "NOTIONAL", "MIN_NOTIONAL":
				minNotional = f.MinNotional
			}
		}
		filter := market.Filter{
			BaseAsset:   s.BaseAsset,
			QuoteAsset:  s.QuoteAsset,
			StepSize:    b.sanitize(s.Symbol, "stepSize", step, DefaultStepSize),
			MinQty:      b.sanitize(s.Symbol, "minQty", minQty, DefaultMinQty),
			MinNotional: b.sanitize(s.Symbol, "minNotional", minNotional, DefaultMinNotional),
		}
		// baseAssetPrecision 是资产精度（通常为 8），下单数量精度以 LOT_SIZE 步长为准。
		filter.QuantityPrecision = market.StepPrecision(filter.StepSize)
		out[strings.ToUpper(s.Symbol)] = filter
	}
	return out, nil
}

func (b *Binance) sanitize(symbol, name, raw string, fallback decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		b.logger.Warn().Str("symbol", symbol).Str("filter", name).Str("raw", raw).
			Str("default", fallback.String()).Msg("invalid filter value, using default")
		return fallback
	}
	return v
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceOrder submits a signed MARKET order for spec.
func (b *Binance) PlaceOrder(ctx context.Context, spec sizing.OrderSpec) (OrderResult, error) {
	clientID := b.newID()
	params := url.Values{}
	params.Set("symbol", spec.Symbol)
	params.Set("side", string(spec.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", spec.QuantityString())
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "FULL")

	var resp orderResponse
	err := b.do(ctx, http.MethodPost, orderPath, params, true, &resp)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.ServerSide() {
			return OrderResult{}, fmt.Errorf("place order: %w", err)
		}
		result := OrderResult{Status: StatusRejected, ClientOrderID: clientID}
		switch {
		case apiErr.RateLimited():
			result.Message = fmt.Sprintf("Binance request limit hit (%d)", apiErr.Status)
		case apiErr.FilterRejected():
			result.Message = "Trade rejected: below Binance min_notional"
		default:
			result.Message = "Order failed: " + apiErr.Message
		}
		b.logger.Warn().Str("symbol", spec.Symbol).Str("side", string(spec.Side)).
			Int("status", apiErr.Status).Int("code", apiErr.Code).Msg(result.Message)
		return result, nil
	}

	result := OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
	}
	result.ExecutedQty, _ = decimal.NewFromString(resp.ExecutedQty)
	result.FillPrice = fillPrice(resp, spec.Price)

	if resp.Status == "FILLED" || resp.Status == "PARTIALLY_FILLED" {
		result.Status = StatusFilled
		result.Message = fmt.Sprintf("Order executed successfully (%s %s)", spec.Symbol, spec.Side)
	} else {
		result.Status = StatusRejected
		result.Message = "order not filled: " + resp.Status
	}
	return result, nil
}

func fillPrice(resp orderResponse, fallback decimal.Decimal) decimal.Decimal {
	executed, err := decimal.NewFromString(resp.ExecutedQty)
	if err == nil && executed.IsPositive() {
		if quote, err := decimal.NewFromString(resp.CummulativeQuoteQty); err == nil && quote.IsPositive() {
			return quote.DivRound(executed, 8)
		}
	}
	if len(resp.Fills) > 0 {
		if p, err := decimal.NewFromString(resp.Fills[0].Price); err == nil {
			return p
		}
	}
	return fallback
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (b *Binance) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		if b.opts.APIKey == "" || b.opts.SecretKey == "" {
			return errors.New("binance api key and secret required for signed endpoints")
		}
		if b.opts.RecvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(b.opts.RecvWindow.Milliseconds(), 10))
		}
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	}

	query := params.Encode()
	if signed {
		query += "&signature=" + Sign(b.opts.SecretKey, query)
	}

	endpoint := b.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "alerttrader/1.0")
	}
	if b.opts.APIKey != "" {
		req.Header.Set(apiKeyHeader, b.opts.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func symbolsParam(symbols []string) string {
	uniq := make(map[string]struct{}, len(symbols))
	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if _, ok := uniq[s]; ok || s == "" {
			continue
		}
		uniq[s] = struct{}{}
		list = append(list, s)
	}
	sort.Strings(list)
	raw, _ := json.Marshal(list)
	return string(raw)
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return &APIError{Status: status, Code: apiErr.Code, Message: apiErr.Msg}
	}
	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

var _ Capability = (*Binance)(nil)
