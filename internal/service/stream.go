package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"alert-trader/internal/exchange"
)

// StreamSink returns the sink the websocket price feed writes into. Each
// update lands in the price store first and is then mirrored.
func (s *Service) StreamSink() exchange.PriceSink {
	return streamSink{s: s}
}

type streamSink struct {
	s *Service
}

func (k streamSink) Upsert(symbol string, mid decimal.Decimal, at time.Time) error {
	if err := k.s.prices.Upsert(symbol, mid, at); err != nil {
		return err
	}
	k.s.metrics.RecordStreamUpdate(symbol)
	k.s.mirrorWrite(StorePrices, func(ctx context.Context) error {
		return k.s.mirror.WritePrice(ctx, symbol, mid)
	})
	return nil
}
