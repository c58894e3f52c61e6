package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"alert-trader/internal/market"
	"alert-trader/internal/scheduler"
)

// symbols returns the configured allow-list, or the symbols with filters when
// trading is unrestricted.
func (s *Service) symbols() []string {
	if len(s.cfg.Trading.AllowedSymbols) > 0 {
		return s.cfg.Trading.AllowedSymbols
	}
	return s.filters.Symbols()
}

// refresh runs fetch under the refresh timeout and wraps failures.
func (s *Service) refresh(ctx context.Context, store string, fetch func(ctx context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	started := time.Now()
	count, err := fetch(ctx)
	took := time.Since(started)
	s.metrics.RecordRefresh(store, took, err)
	if err != nil {
		s.logger.Error().Err(err).Str("store", store).Dur("took", took).Msg("refresh failed, keeping previous snapshot")
		return &RefreshError{Store: store, Err: err}
	}
	s.logger.Info().Str("store", store).Int("entries", count).Dur("took", took).Msg("store refreshed")
	return nil
}

// RefreshBalances replaces the balance snapshot from the exchange. The
// whole account record is published at once; an asset missing from the
// response (Binance omits zero balances) disappears from the store.
func (s *Service) RefreshBalances(ctx context.Context) error {
	return s.refresh(ctx, StoreBalances, func(ctx context.Context) (int, error) {
		balances, err := s.exchange.Balances(ctx)
		if err != nil {
			return 0, err
		}
		at := s.now().UTC()
		if err := s.balances.ReplaceAll(balances, at); err != nil {
			return 0, err
		}
		s.mirrorWrite(StoreBalances, func(ctx context.Context) error {
			return s.mirror.WriteBalances(ctx, balances, at)
		})
		return len(balances), nil
	})
}

// RefreshFilters replaces the filter snapshot for the traded symbols.
func (s *Service) RefreshFilters(ctx context.Context) error {
	return s.refresh(ctx, StoreFilters, func(ctx context.Context) (int, error) {
		filters, err := s.exchange.Filters(ctx, s.cfg.Trading.AllowedSymbols)
		if err != nil {
			return 0, err
		}
		if len(filters) == 0 {
			return 0, fmt.Errorf("exchange returned no filters")
		}
		at := s.now().UTC()
		if err := s.filters.ReplaceAll(filters, at); err != nil {
			return 0, err
		}
		s.mirrorWrite(StoreFilters, func(ctx context.Context) error {
			return s.mirror.WriteFilters(ctx, filters, at)
		})
		return len(filters), nil
	})
}

// RefreshPrices replaces the price snapshot for the traded symbols.
func (s *Service) RefreshPrices(ctx context.Context) error {
	return s.refresh(ctx, StorePrices, func(ctx context.Context) (int, error) {
		symbols := s.symbols()
		if len(symbols) == 0 {
			return 0, fmt.Errorf("no symbols to price")
		}
		prices, err := s.exchange.Prices(ctx, symbols)
		if err != nil {
			return 0, err
		}
		at := s.now().UTC()
		if err := s.prices.ReplaceAll(prices, at); err != nil {
			return 0, err
		}
		s.mirrorWrite(StorePrices, func(ctx context.Context) error {
			return s.mirror.WritePrices(ctx, prices, at)
		})
		return len(prices), nil
	})
}

// RefreshAll refreshes the three stores concurrently and joins their errors.
func (s *Service) RefreshAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		errs [3]error
	)
	g.Go(func() error { errs[0] = s.RefreshFilters(ctx); return nil })
	g.Go(func() error { errs[1] = s.RefreshPrices(ctx); return nil })
	g.Go(func() error { errs[2] = s.RefreshBalances(ctx); return nil })
	_ = g.Wait()
	return errors.Join(errs[:]...)
}

func (s *Service) mirrorWrite(store string, write func(ctx context.Context) error) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		s.metrics.RecordSinkError("redis")
		s.logger.Warn().Err(err).Str("store", store).Msg("failed to mirror snapshot")
	}
}

// Warm seeds the stores and the order log from the durable mirrors. Stale
// data is better than none until the first refresh lands; every failure is
// logged and skipped.
func (s *Service) Warm(ctx context.Context) {
	if s.mirror != nil {
		s.warmFilters(ctx)
		s.warmPrices(ctx)
		s.warmBalances(ctx)
	}
	if s.history != nil {
		entries, err := s.history.LoadOrders(ctx, s.orders.Cap())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load order history")
			return
		}
		restored := s.orders.Restore(entries)
		s.logger.Info().Int("entries", restored).Msg("order log restored")
	}
}

func (s *Service) warmStore(ctx context.Context, store string) {
	if s.mirror == nil {
		return
	}
	switch store {
	case StoreFilters:
		s.warmFilters(ctx)
	case StorePrices:
		s.warmPrices(ctx)
	case StoreBalances:
		s.warmBalances(ctx)
	}
}

func (s *Service) warmFilters(ctx context.Context) {
	filters, at, err := s.mirror.LoadFilters(ctx, s.cfg.Trading.AllowedSymbols)
	if err != nil || len(filters) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to warm filters")
		}
		return
	}
	for symbol, f := range filters {
		if f.BaseAsset == "" || f.QuoteAsset == "" {
			if base, quote, err := market.SplitSymbol(symbol); err == nil {
				f.BaseAsset, f.QuoteAsset = base, quote
				filters[symbol] = f
			}
		}
	}
	if err := s.filters.ReplaceAll(filters, s.orNow(at)); err != nil {
		s.logger.Warn().Err(err).Msg("cached filters rejected")
		return
	}
	s.logger.Info().Int("entries", len(filters)).Time("observed_at", at).Msg("filters warmed from cache")
}

func (s *Service) warmPrices(ctx context.Context) {
	prices, at, err := s.mirror.LoadPrices(ctx)
	if err != nil || len(prices) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to warm prices")
		}
		return
	}
	if err := s.prices.ReplaceAll(prices, s.orNow(at)); err != nil {
		s.logger.Warn().Err(err).Msg("cached prices rejected")
		return
	}
	s.logger.Info().Int("entries", len(prices)).Time("observed_at", at).Msg("prices warmed from cache")
}

func (s *Service) warmBalances(ctx context.Context) {
	balances, at, ok, err := s.mirror.LoadBalances(ctx)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to warm balances")
		}
		return
	}
	if err := s.balances.ReplaceAll(balances, s.orNow(at)); err != nil {
		s.logger.Warn().Err(err).Msg("cached balances rejected")
		return
	}
	s.logger.Info().Int("entries", len(balances)).Time("observed_at", at).Msg("balances warmed from cache")
}

func (s *Service) orNow(at time.Time) time.Time {
	if at.IsZero() {
		return s.now().UTC()
	}
	return at
}

// RunRefreshers drives the periodic balance, filter and price refreshes
// until ctx is cancelled.
func (s *Service) RunRefreshers(ctx context.Context) error {
	rc := s.cfg.Refresh
	jobs := []struct {
		name     string
		interval time.Duration
		refresh  func(context.Context) error
	}{
		{StoreFilters, rc.FiltersInterval, s.RefreshFilters},
		{StoreBalances, rc.BalancesInterval, s.RefreshBalances},
		{StorePrices, rc.PricesInterval, s.RefreshPrices},
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		if job.interval <= 0 {
			s.logger.Info().Str("store", job.name).Msg("periodic refresh disabled")
			continue
		}
		lockKey := s.lockKey
		if lockKey != 0 {
			lockKey += int64(i)
		}
		sched := scheduler.New(scheduler.Options{
			Name:           "refresh_" + job.name,
			Interval:       job.interval,
			StartupDelay:   rc.StartupDelay,
			RunImmediately: true,
		}, s.logger)
		refresh := job.refresh
		name := job.name
		g.Go(func() error {
			err := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
				return s.guarded(ctx, name, lockKey, refresh)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// guarded runs refresh under the advisory lock when one is configured so
// that only one replica talks to the exchange per tick. The others pick the
// snapshot up from the mirror.
func (s *Service) guarded(ctx context.Context, store string, key int64, refresh func(context.Context) error) error {
	unlock, proceed, err := s.acquireLock(ctx, key)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Str("store", store).Msg("advisory lock held elsewhere, reloading from mirror")
		s.warmStore(ctx, store)
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return refresh(ctx)
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
