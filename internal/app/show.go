package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"alert-trader/internal/orderlog"
	"alert-trader/internal/storage"
)

// Show prints recent orders from postgres, falling back to the redis mirror.
// With Cache set it also prints the mirrored market snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	mirror, closeMirror, err := a.openMirror(ctx)
	if err != nil {
		return err
	}
	if closeMirror != nil {
		defer closeMirror()
	}
	if store == nil && mirror == nil {
		return errors.New("neither database nor redis configured; nothing to show")
	}

	var entries []orderlog.Entry
	if store != nil {
		entries, err = store.LoadOrders(ctx, opts.Limit)
	} else {
		entries, err = mirror.LoadOrders(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	printOrders(os.Stdout, entries)
	if store != nil && len(entries) > 0 {
		total, err := store.CountOrders(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "showing %d of %d stored orders\n", len(entries), total)
	}

	if opts.Cache {
		if mirror == nil {
			return errors.New("redis not configured; cannot show cached snapshots")
		}
		return a.showCache(ctx, os.Stdout, mirror)
	}
	return nil
}

func printOrders(out io.Writer, entries []orderlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no orders found")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time (UTC)", "Symbol", "Side", "Status", "Quantity", "Price", "Notional", "Message"})
	for _, e := range entries {
		notional := "-"
		if v, ok := e.Notional(); ok {
			notional = formatDecimal(v, 2)
		}
		t.AppendRow(table.Row{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Symbol,
			e.Side,
			e.Status,
			nullText(e.Quantity),
			nullText(e.Price),
			notional,
			sanitizeInline(e.Message),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, WidthMax: 60},
	})
	t.Render()
}

func (a *App) showCache(ctx context.Context, out io.Writer, mirror *storage.CacheMirror) error {
	prices, pricesAt, err := mirror.LoadPrices(ctx)
	if err != nil {
		return err
	}
	balances, balancesAt, balancesOK, err := mirror.LoadBalances(ctx)
	if err != nil {
		return err
	}
	filters, filtersAt, err := mirror.LoadFilters(ctx, a.Config.Trading.AllowedSymbols)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("prices %s | filters %s", stamp(pricesAt), stamp(filtersAt)))
	t.AppendHeader(table.Row{"Symbol", "Price", "Step", "Min qty", "Min notional"})
	for _, symbol := range sortedKeys(prices) {
		f, ok := filters[symbol]
		if !ok {
			t.AppendRow(table.Row{symbol, prices[symbol], "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{symbol, prices[symbol], f.StepSize, f.MinQty, f.MinNotional})
	}
	t.Render()

	if !balancesOK {
		fmt.Fprintln(out, "balances: none cached")
		return nil
	}
	b := table.NewWriter()
	b.SetOutputMirror(out)
	b.SetStyle(table.StyleRounded)
	b.SetTitle("balances " + stamp(balancesAt))
	b.AppendHeader(table.Row{"Asset", "Free"})
	for _, asset := range sortedKeys(balances) {
		b.AppendRow(table.Row{asset, balances[asset]})
	}
	b.Render()
	return nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func nullText(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
