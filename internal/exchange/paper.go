package exchange

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alert-trader/internal/market"
	"alert-trader/internal/sizing"
)

// Paper reads market data from an upstream capability but fills every order
// locally at the sized price. It backs exchange.dry_run and the simulate
// command.
type Paper struct {
	upstream Capability
	seq      atomic.Int64
}

// NewPaper wraps upstream. A nil upstream answers reads with empty data.
func NewPaper(upstream Capability) *Paper {
	return &Paper{upstream: upstream}
}

func (p *Paper) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if p.upstream == nil {
		return map[string]decimal.Decimal{}, nil
	}
	return p.upstream.Prices(ctx, symbols)
}

func (p *Paper) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	if p.upstream == nil {
		return map[string]decimal.Decimal{}, nil
	}
	return p.upstream.Balances(ctx)
}

func (p *Paper) Filters(ctx context.Context, symbols []string) (map[string]market.Filter, error) {
	if p.upstream == nil {
		return map[string]market.Filter{}, nil
	}
	return p.upstream.Filters(ctx, symbols)
}

// PlaceOrder fills spec in full at spec.Price.
func (p *Paper) PlaceOrder(_ context.Context, spec sizing.OrderSpec) (OrderResult, error) {
	return OrderResult{
		Status:        StatusFilled,
		FillPrice:     spec.Price,
		ExecutedQty:   spec.Quantity,
		OrderID:       p.seq.Add(1),
		ClientOrderID: "paper-" + uuid.NewString(),
		Message:       fmt.Sprintf("paper fill (%s %s)", spec.Symbol, spec.Side),
	}, nil
}

var _ Capability = (*Paper)(nil)
