package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"alert-trader/internal/config"
	"alert-trader/internal/market"
	"alert-trader/internal/orderlog"
)

// Redis key layout shared with operators inspecting the cache by hand.
const (
	PriceCacheKey        = "price_cache"
	BalancesKey          = "account_balances"
	FilterKeyPrefix      = "filters:"
	OrderLogKey          = "order_log"
	LastRefreshPricesKey = "last_refresh_prices"
	LastRefreshBalances  = "last_refresh_balances"
	LastRefreshFilters   = "last_refresh_filters"
)

// NewRedisClient connects to redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// CacheMirror mirrors the in-process market stores and order log into redis so a
// restarted process can warm up before the first exchange refresh lands.
type CacheMirror struct {
	rdb      redis.Cmdable
	orderCap int64
}

// NewCacheMirror wraps a redis client. orderCap bounds the mirrored order list.
func NewCacheMirror(rdb redis.Cmdable, orderCap int) *CacheMirror {
	if orderCap <= 0 {
		orderCap = orderlog.DefaultCapacity
	}
	return &CacheMirror{rdb: rdb, orderCap: int64(orderCap)}
}

type balancesDoc struct {
	Balances map[string]string `json:"balances"`
	TS       int64             `json:"ts"`
}

type filterFields struct {
	MinQty      string `json:"min_qty"`
	StepSize    string `json:"step_size"`
	MinNotional string `json:"min_notional"`
}

type filterDoc struct {
	Filters filterFields `json:"filters"`
	TS      int64        `json:"ts"`
}

// FilterKey returns the redis key holding one symbol's filters.
func FilterKey(symbol string) string {
	return FilterKeyPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

// WritePrices stores a full price snapshot in the price_cache hash.
func (c *CacheMirror) WritePrices(ctx context.Context, prices map[string]decimal.Decimal, at time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	fields := make(map[string]any, len(prices))
	for symbol, mid := range prices {
		fields[strings.ToUpper(symbol)] = mid.String()
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, PriceCacheKey, fields)
	pipe.Set(ctx, LastRefreshPricesKey, strconv.FormatInt(at.Unix(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write prices: %w", err)
	}
	return nil
}

// WritePrice stores a single streamed price.
func (c *CacheMirror) WritePrice(ctx context.Context, symbol string, mid decimal.Decimal) error {
	if err := c.rdb.HSet(ctx, PriceCacheKey, strings.ToUpper(symbol), mid.String()).Err(); err != nil {
		return fmt.Errorf("redis: write price %s: %w", symbol, err)
	}
	return nil
}

// WriteBalances replaces the account_balances document.
func (c *CacheMirror) WriteBalances(ctx context.Context, balances map[string]decimal.Decimal, at time.Time) error {
	body, err := encodeBalances(balances, at)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, BalancesKey, body, 0)
	pipe.Set(ctx, LastRefreshBalances, ts, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write balances: %w", err)
	}
	return nil
}

// WriteFilters stores one filters:{SYMBOL} document per symbol.
func (c *CacheMirror) WriteFilters(ctx context.Context, filters map[string]market.Filter, at time.Time) error {
	pipe := c.rdb.TxPipeline()
	for symbol, f := range filters {
		body, err := encodeFilter(f, at)
		if err != nil {
			return err
		}
		pipe.Set(ctx, FilterKey(symbol), body, 0)
	}
	pipe.Set(ctx, LastRefreshFilters, strconv.FormatInt(at.Unix(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write filters: %w", err)
	}
	return nil
}

// AppendOrder implements orderlog.Sink on the order_log list, newest first.
func (c *CacheMirror) AppendOrder(ctx context.Context, entry orderlog.Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode order entry: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, OrderLogKey, body)
	pipe.LTrim(ctx, OrderLogKey, 0, c.orderCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append order: %w", err)
	}
	return nil
}

// LoadPrices reads the price_cache hash. Unparseable values are skipped.
func (c *CacheMirror) LoadPrices(ctx context.Context) (map[string]decimal.Decimal, time.Time, error) {
	vals, err := c.rdb.HGetAll(ctx, PriceCacheKey).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: load prices: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(vals))
	for symbol, raw := range vals {
		mid, err := decimal.NewFromString(raw)
		if err != nil || !mid.IsPositive() {
			continue
		}
		prices[symbol] = mid
	}
	ts, err := c.loadTimestamp(ctx, LastRefreshPricesKey)
	if err != nil {
		return nil, time.Time{}, err
	}
	return prices, ts, nil
}

// LoadBalances reads account_balances. ok is false when the key is absent.
func (c *CacheMirror) LoadBalances(ctx context.Context) (map[string]decimal.Decimal, time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, BalancesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis: load balances: %w", err)
	}
	balances, ts, err := decodeBalances(raw)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return balances, ts, true, nil
}

// LoadFilters reads filters for the given symbols; missing keys are omitted.
func (c *CacheMirror) LoadFilters(ctx context.Context, symbols []string) (map[string]market.Filter, time.Time, error) {
	if len(symbols) == 0 {
		return map[string]market.Filter{}, time.Time{}, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = FilterKey(s)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: load filters: %w", err)
	}

	filters := make(map[string]market.Filter, len(vals))
	var oldest time.Time
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		f, ts, err := decodeFilter([]byte(raw))
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		filters[strings.TrimPrefix(keys[i], FilterKeyPrefix)] = f
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	return filters, oldest, nil
}

// LoadOrders returns up to limit mirrored entries, most recent first.
func (c *CacheMirror) LoadOrders(ctx context.Context, limit int) ([]orderlog.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := c.rdb.LRange(ctx, OrderLogKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load orders: %w", err)
	}
	entries := make([]orderlog.Entry, 0, len(vals))
	for _, raw := range vals {
		var e orderlog.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *CacheMirror) loadTimestamp(ctx context.Context, key string) (time.Time, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: load %s: %w", key, err)
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0).UTC(), nil
}

func encodeBalances(balances map[string]decimal.Decimal, at time.Time) ([]byte, error) {
	doc := balancesDoc{Balances: make(map[string]string, len(balances)), TS: at.Unix()}
	for asset, free := range balances {
		doc.Balances[strings.ToUpper(asset)] = free.String()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode balances: %w", err)
	}
	return body, nil
}

func decodeBalances(raw []byte) (map[string]decimal.Decimal, time.Time, error) {
	var doc balancesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode balances: %w", err)
	}
	balances := make(map[string]decimal.Decimal, len(doc.Balances))
	for asset, text := range doc.Balances {
		free, err := decimal.NewFromString(text)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("decode balance %s: %w", asset, err)
		}
		balances[asset] = free
	}
	return balances, time.Unix(doc.TS, 0).UTC(), nil
}

func encodeFilter(f market.Filter, at time.Time) ([]byte, error) {
	body, err := json.Marshal(filterDoc{
		Filters: filterFields{
			MinQty:      f.MinQty.String(),
			StepSize:    f.StepSize.String(),
			MinNotional: f.MinNotional.String(),
		},
		TS: at.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	return body, nil
}

func decodeFilter(raw []byte) (market.Filter, time.Time, error) {
	var doc filterDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return market.Filter{}, time.Time{}, err
	}
	var (
		f   market.Filter
		err error
	)
	if f.MinQty, err = decimal.NewFromString(doc.Filters.MinQty); err != nil {
		return market.Filter{}, time.Time{}, fmt.Errorf("min_qty: %w", err)
	}
	if f.StepSize, err = decimal.NewFromString(doc.Filters.StepSize); err != nil {
		return market.Filter{}, time.Time{}, fmt.Errorf("step_size: %w", err)
	}
	if f.MinNotional, err = decimal.NewFromString(doc.Filters.MinNotional); err != nil {
		return market.Filter{}, time.Time{}, fmt.Errorf("min_notional: %w", err)
	}
	f.QuantityPrecision = market.StepPrecision(f.StepSize)
	return f, time.Unix(doc.TS, 0).UTC(), nil
}

var _ orderlog.Sink = (*CacheMirror)(nil)
