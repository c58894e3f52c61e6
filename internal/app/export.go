package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"alert-trader/internal/alert"
	"alert-trader/internal/archive"
	"alert-trader/internal/orderlog"
	"alert-trader/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders the durable order history as CSV, XLSX and/or PNG, then
// archives the written files to S3 when export.s3 is enabled.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	// 表的行数受 retention 约束。
	records, err := store.ListOrdersBetween(ctx, from, to, a.Config.OrderLog.Retention)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no orders found for export window")
		return nil
	}

	downsampled := downsampleOrders(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting orders")

	var written []string
	if opts.CSVPath != "" {
		if err := writeOrdersCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
		written = append(written, opts.CSVPath)
	}

	if opts.XLSXPath != "" {
		// 汇总页需要完整记录。
		if err := writeOrdersXLSX(opts.XLSXPath, records); err != nil {
			return err
		}
		written = append(written, opts.XLSXPath)
	}

	if opts.PNGPath != "" {
		// 图表只画成交单，累计值按全部记录计算。
		if err := writeOrdersPNG(opts.PNGPath, records, opts.MaxPoints); err != nil {
			return err
		}
		written = append(written, opts.PNGPath)
	}

	return a.archiveExports(ctx, written)
}

func (a *App) archiveExports(ctx context.Context, paths []string) error {
	if !a.Config.Export.S3.Enabled || len(paths) == 0 {
		return nil
	}
	uploader, err := archive.New(ctx, a.Config.Export.S3, a.Logger)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := uploader.Upload(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func downsampleOrders(records []storage.OrderRecord, max int) []storage.OrderRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.OrderRecord, 0, max)
	for _, idx := range downsampleIndex(len(records), max) {
		result = append(result, records[idx])
	}
	return result
}

func writeOrdersCSV(path string, records []storage.OrderRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "created_at", "symbol", "side", "status", "price", "quantity", "notional", "message"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		notional := ""
		if v, ok := rec.Entry().Notional(); ok {
			notional = v.String()
		}
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Side,
			rec.Status,
			csvNullable(rec.Price),
			csvNullable(rec.Quantity),
			notional,
			rec.Message,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// notionalSeries holds per-side notional points of filled orders plus the
// running net flow. Buys add to it and sells subtract.
type notionalSeries struct {
	buyX, sellX, netX []time.Time
	buyY, sellY, netY []float64
}

func buildNotionalSeries(records []storage.OrderRecord) notionalSeries {
	var s notionalSeries
	net := decimal.Zero
	for _, rec := range records {
		if orderlog.Status(rec.Status) != orderlog.StatusFilled {
			continue
		}
		v, ok := rec.Entry().Notional()
		if !ok {
			continue
		}
		switch alert.Side(rec.Side) {
		case alert.SideBuy:
			net = net.Add(v)
			s.buyX = append(s.buyX, rec.CreatedAt)
			s.buyY = append(s.buyY, v.InexactFloat64())
		case alert.SideSell:
			net = net.Sub(v)
			s.sellX = append(s.sellX, rec.CreatedAt)
			s.sellY = append(s.sellY, v.InexactFloat64())
		default:
			continue
		}
		s.netX = append(s.netX, rec.CreatedAt)
		s.netY = append(s.netY, net.InexactFloat64())
	}
	return s
}

func writeOrdersPNG(path string, records []storage.OrderRecord, maxPoints int) error {
	s := buildNotionalSeries(records)
	if len(s.netX) < 2 {
		return errors.New("need at least two filled orders to draw a chart")
	}
	if maxPoints > 1 && len(s.netX) > maxPoints {
		idx := downsampleIndex(len(s.netX), maxPoints)
		s.netX, s.netY = pickTimes(s.netX, idx), pickFloats(s.netY, idx)
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	quoteFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	dots := chart.Style{StrokeWidth: chart.Disabled, DotWidth: 3}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Net flow",
			XValues: s.netX,
			YValues: s.netY,
			YAxis:   chart.YAxisSecondary,
		},
	}
	if len(s.buyX) > 0 {
		series = append(series, chart.TimeSeries{Name: "Buy notional", Style: dots, XValues: s.buyX, YValues: s.buyY})
	}
	if len(s.sellX) > 0 {
		series = append(series, chart.TimeSeries{Name: "Sell notional", Style: dots, XValues: s.sellX, YValues: s.sellY})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Order notional (quote)",
			ValueFormatter: quoteFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Net flow (quote)",
			ValueFormatter: quoteFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func downsampleIndex(n, max int) []int {
	out := make([]int, 0, max)
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= n {
			idx = n - 1
		}
		out = append(out, idx)
	}
	return out
}

func pickTimes(v []time.Time, idx []int) []time.Time {
	out := make([]time.Time, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

func pickFloats(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

func csvNullable(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
