package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"alert-trader/internal/market"
	"alert-trader/internal/service"
)

// Refresh fetches the selected stores once and writes them through to the
// mirror. With no stores selected every store is refreshed.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	stores := opts.Stores
	if len(stores) == 0 {
		stores = []string{service.StoreFilters, service.StoreBalances, service.StorePrices}
	}

	rt, err := a.build(ctx, buildOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := rt.svc
	// 价格刷新依赖已知的交易对过滤器。
	svc.Warm(ctx)

	var errs []error
	for _, store := range stores {
		var refresh func(context.Context) error
		switch store {
		case service.StoreFilters:
			refresh = svc.RefreshFilters
		case service.StoreBalances:
			refresh = svc.RefreshBalances
		case service.StorePrices:
			refresh = svc.RefreshPrices
		default:
			return fmt.Errorf("unknown store %q (want balances, filters or prices)", store)
		}
		if err := refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	printSummary(os.Stdout, svc.CacheSummary())
	return errors.Join(errs...)
}

func printSummary(out io.Writer, s market.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Store", "Entries", "Observed (UTC)", "Age"})
	row := func(name string, st market.StoreSummary) table.Row {
		observed, ageText := "-", "-"
		if st.ObservedAt != nil {
			observed = st.ObservedAt.UTC().Format(time.RFC3339)
		}
		if st.AgeSeconds != nil {
			ageText = (time.Duration(*st.AgeSeconds) * time.Second).String()
		}
		return table.Row{name, st.Count, observed, ageText}
	}
	t.AppendRows([]table.Row{
		row(service.StoreFilters, s.Filters),
		row(service.StorePrices, s.Prices),
		row(service.StoreBalances, s.Balances.StoreSummary),
	})
	t.Render()
}
