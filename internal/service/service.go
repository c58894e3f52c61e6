package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alert-trader/internal/alert"
	"alert-trader/internal/alerting"
	"alert-trader/internal/config"
	"alert-trader/internal/exchange"
	"alert-trader/internal/market"
	"alert-trader/internal/metrics"
	"alert-trader/internal/orderlog"
	"alert-trader/internal/sizing"
	"alert-trader/internal/storage"
)

// Mirror is the durable copy of the market stores used to warm a restarted
// process. storage.CacheMirror implements it.
type Mirror interface {
	WritePrices(ctx context.Context, prices map[string]decimal.Decimal, at time.Time) error
	WritePrice(ctx context.Context, symbol string, mid decimal.Decimal) error
	WriteBalances(ctx context.Context, balances map[string]decimal.Decimal, at time.Time) error
	WriteFilters(ctx context.Context, filters map[string]market.Filter, at time.Time) error
	LoadPrices(ctx context.Context) (map[string]decimal.Decimal, time.Time, error)
	LoadBalances(ctx context.Context) (map[string]decimal.Decimal, time.Time, bool, error)
	LoadFilters(ctx context.Context, symbols []string) (map[string]market.Filter, time.Time, error)
}

// History restores recent order log entries, most recent first.
type History interface {
	LoadOrders(ctx context.Context, limit int) ([]orderlog.Entry, error)
}

// NamedSink is an order log mirror with a name for logs and metrics.
type NamedSink struct {
	Name string
	Sink orderlog.Sink
}

var (
	_ Mirror  = (*storage.CacheMirror)(nil)
	_ History = (*storage.CacheMirror)(nil)
	_ History = (*storage.Store)(nil)
)

// Deps wires the service. Only Config and Exchange are required.
type Deps struct {
	Config   *config.Config
	Exchange exchange.Capability

	Filters  *market.FilterStore
	Prices   *market.PriceStore
	Balances *market.BalanceStore
	Orders   *orderlog.Log

	Sinks    []NamedSink
	Mirror   Mirror
	History  History
	Locker   storage.AdvisoryLocker
	Notifier alerting.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Service orchestrates alert handling, order placement and cache refreshes.
type Service struct {
	cfg      *config.Config
	exchange exchange.Capability

	filters  *market.FilterStore
	prices   *market.PriceStore
	balances *market.BalanceStore
	orders   *orderlog.Log
	reporter *market.Reporter

	sinks    []NamedSink
	mirror   Mirror
	history  History
	locker   storage.AdvisoryLocker
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	refreshTimeout time.Duration
	lockKey        int64
	afterFill      bool
	dryRun         bool
}

const (
	defaultRefreshTimeout = 10 * time.Second
	sinkTimeout           = 3 * time.Second
)

// New constructs the service, creating any store left nil.
func New(d Deps) (*Service, error) {
	if d.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if d.Exchange == nil {
		return nil, fmt.Errorf("exchange capability is required")
	}
	if d.Filters == nil {
		d.Filters = market.NewFilterStore()
	}
	if d.Prices == nil {
		d.Prices = market.NewPriceStore()
	}
	if d.Balances == nil {
		d.Balances = market.NewBalanceStore()
	}
	if d.Orders == nil {
		d.Orders = orderlog.New(d.Config.OrderLog.Capacity)
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	timeout := d.Config.Refresh.Timeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	s := &Service{
		cfg:            d.Config,
		exchange:       d.Exchange,
		filters:        d.Filters,
		prices:         d.Prices,
		balances:       d.Balances,
		orders:         d.Orders,
		reporter:       market.NewReporter(d.Filters, d.Prices, d.Balances).WithClock(d.Now),
		sinks:          d.Sinks,
		mirror:         d.Mirror,
		history:        d.History,
		locker:         d.Locker,
		notifier:       d.Notifier,
		metrics:        d.Metrics,
		logger:         d.Logger.With().Str("component", "service").Logger(),
		now:            d.Now,
		refreshTimeout: timeout,
		lockKey:        d.Config.Refresh.AdvisoryLockKey,
		afterFill:      d.Config.Refresh.AfterFill,
		dryRun:         d.Config.Exchange.DryRun,
	}
	return s, nil
}

// Filters exposes the filter store for read-only handlers.
func (s *Service) Filters() *market.FilterStore { return s.filters }

// Prices exposes the price store for read-only handlers.
func (s *Service) Prices() *market.PriceStore { return s.prices }

// Balances exposes the balance store for read-only handlers.
func (s *Service) Balances() *market.BalanceStore { return s.balances }

// HandleAlert classifies the payload, checks the symbol allow-list and sizes
// the order against the current snapshots. Nothing is placed.
func (s *Service) HandleAlert(_ context.Context, payload alert.Payload) (sizing.OrderSpec, error) {
	instr, err := alert.Classify(payload)
	if err != nil {
		return sizing.OrderSpec{}, err
	}
	if !s.cfg.SymbolAllowed(instr.Symbol) {
		return sizing.OrderSpec{}, alert.SymbolNotAllowed(instr.Symbol)
	}
	return sizing.Resolve(instr, s.prices, s.balances, s.filters)
}

// ExecutionResult is the outcome of one webhook alert.
type ExecutionResult struct {
	Status  orderlog.Status       `json:"status"`
	Order   *sizing.OrderSpec     `json:"order,omitempty"`
	Fill    *exchange.OrderResult `json:"fill,omitempty"`
	Message string                `json:"message"`
	DryRun  bool                  `json:"dryRun,omitempty"`
}

// Execute handles an alert end to end: size, place, record, refresh the
// traded balances and notify. Classification and sizing failures are
// recorded as error entries and returned unchanged; an exchange rejection
// is a result with status rejected, not an error.
func (s *Service) Execute(ctx context.Context, payload alert.Payload) (ExecutionResult, error) {
	spec, err := s.HandleAlert(ctx, payload)
	if err != nil {
		s.metrics.RecordAlert(reasonCode(err))
		entry := orderlog.Entry{
			Timestamp: s.now().UTC(),
			Symbol:    strings.ToUpper(strings.TrimSpace(payload.Symbol)),
			Side:      strings.ToUpper(strings.TrimSpace(payload.Action)),
			Status:    orderlog.StatusError,
			Message:   err.Error(),
		}
		s.record(ctx, entry)
		s.logger.Warn().Err(err).
			Str("symbol", entry.Symbol).
			Str("reason", reasonCode(err)).
			Interface("payload", payload.Redacted()).
			Msg("alert rejected before placement")
		return ExecutionResult{Status: orderlog.StatusError, Message: err.Error()}, err
	}
	s.metrics.RecordAlert("accepted")

	result := ExecutionResult{Order: &spec, DryRun: s.dryRun}
	entry := orderlog.Entry{
		Timestamp: s.now().UTC(),
		Symbol:    spec.Symbol,
		Side:      string(spec.Side),
		Price:     decimal.NewNullDecimal(spec.Price),
		Quantity:  decimal.NewNullDecimal(spec.Quantity),
	}

	fill, err := s.exchange.PlaceOrder(ctx, spec)
	if err != nil {
		entry.Status = orderlog.StatusError
		entry.Message = "Order failed: " + err.Error()
		s.record(ctx, entry)
		s.notify(ctx, entry, "")
		s.logger.Error().Err(err).Str("symbol", spec.Symbol).Str("side", string(spec.Side)).Msg("order placement failed")
		result.Status = orderlog.StatusError
		result.Message = entry.Message
		return result, fmt.Errorf("%w: %v", ErrPlacement, err)
	}
	result.Fill = &fill
	result.Message = fill.Message

	if fill.Status == exchange.StatusRejected {
		entry.Status = orderlog.StatusRejected
		entry.Message = fill.Message
		s.record(ctx, entry)
		s.notify(ctx, entry, fill.ClientOrderID)
		s.logger.Warn().Str("symbol", spec.Symbol).Str("side", string(spec.Side)).Str("message", fill.Message).Msg("order rejected by exchange")
		result.Status = orderlog.StatusRejected
		return result, nil
	}

	if fill.FillPrice.IsPositive() {
		entry.Price = decimal.NewNullDecimal(fill.FillPrice)
	}
	if fill.ExecutedQty.IsPositive() {
		entry.Quantity = decimal.NewNullDecimal(fill.ExecutedQty)
	}
	entry.Status = orderlog.StatusFilled
	entry.Message = fill.Message
	if entry.Message == "" {
		entry.Message = fmt.Sprintf("%s %s %s filled", spec.Side, spec.QuantityString(), spec.Symbol)
	}
	s.record(ctx, entry)

	s.logger.Info().Str("symbol", spec.Symbol).
		Str("side", string(spec.Side)).
		Str("mode", spec.Mode.String()).
		Str("quantity", spec.QuantityString()).
		Str("price", entry.Price.Decimal.String()).
		Bool("dry_run", s.dryRun).
		Msg("order filled")

	if s.afterFill && !s.dryRun {
		// 成交后重新拉取整个账户，不在旧快照上做局部合并。
		if err := s.RefreshBalances(ctx); err != nil {
			s.logger.Warn().Err(err).Str("symbol", spec.Symbol).Msg("post-fill balance refresh failed")
		}
	}
	s.notify(ctx, entry, orderRef(fill))

	result.Status = orderlog.StatusFilled
	result.Message = entry.Message
	return result, nil
}

func (s *Service) notify(ctx context.Context, entry orderlog.Entry, orderID string) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{Entry: entry, OrderID: orderID, DryRun: s.dryRun}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("symbol", entry.Symbol).Msg("failed to dispatch notification")
	}
}

func orderRef(fill exchange.OrderResult) string {
	if fill.OrderID != 0 {
		return fmt.Sprintf("%d", fill.OrderID)
	}
	return fill.ClientOrderID
}

// reasonCode extracts the machine-readable failure reason of err.
func reasonCode(err error) string {
	var verr *alert.ValidationError
	if errors.As(err, &verr) {
		return verr.Code()
	}
	var serr *sizing.SizingError
	if errors.As(err, &serr) {
		return serr.Code()
	}
	return "internal"
}

// CacheSummary reports presence and age of the three stores.
func (s *Service) CacheSummary() market.Summary {
	summary := s.reporter.Summarize()
	s.metrics.SetStore(StoreBalances, summary.Balances.Count, age(summary.Balances.AgeSeconds))
	s.metrics.SetStore(StoreFilters, summary.Filters.Count, age(summary.Filters.AgeSeconds))
	s.metrics.SetStore(StorePrices, summary.Prices.Count, age(summary.Prices.AgeSeconds))
	return summary
}

func age(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}
