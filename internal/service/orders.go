package service

import (
	"context"
	"errors"

	"alert-trader/internal/orderlog"
)

// RecordOrder appends entry to the in-memory log, then mirrors it to every
// sink with a short timeout. An invalid entry is rejected outright; sink
// failures come back as *LogError after the entry is already in memory.
func (s *Service) RecordOrder(ctx context.Context, entry orderlog.Entry) error {
	if err := s.orders.Append(entry); err != nil {
		return err
	}
	notional, ok := entry.Notional()
	s.metrics.RecordOrder(entry.Symbol, entry.Side, string(entry.Status), notional.InexactFloat64(), ok)

	var errs []error
	for _, sink := range s.sinks {
		if sink.Sink == nil {
			continue
		}
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		err := sink.Sink.AppendOrder(sinkCtx, entry)
		cancel()
		if err != nil {
			s.metrics.RecordSinkError(sink.Name)
			errs = append(errs, &LogError{Sink: sink.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// record is RecordOrder for paths that must not fail on logging.
func (s *Service) record(ctx context.Context, entry orderlog.Entry) {
	if err := s.RecordOrder(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("symbol", entry.Symbol).Str("status", string(entry.Status)).Msg("failed to record order")
	}
}

// OrdersRecorded counts entries appended since start, including evicted ones.
func (s *Service) OrdersRecorded() uint64 {
	return s.orders.Total()
}

// RecentOrders returns up to limit entries, most recent first.
func (s *Service) RecentOrders(limit int) []orderlog.Entry {
	return s.orders.Recent(limit)
}
