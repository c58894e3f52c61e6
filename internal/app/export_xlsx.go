package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"alert-trader/internal/alert"
	"alert-trader/internal/orderlog"
	"alert-trader/internal/storage"
)

const (
	ordersSheet  = "Orders"
	summarySheet = "By Symbol"
)

type symbolTotals struct {
	symbol           string
	buys, sells      int
	buyNotional      decimal.Decimal
	sellNotional     decimal.Decimal
	rejected, errored int
}

func (s symbolTotals) net() decimal.Decimal {
	return s.buyNotional.Sub(s.sellNotional)
}

// summarizeBySymbol aggregates filled notional per symbol, sorted by symbol.
func summarizeBySymbol(records []storage.OrderRecord) []symbolTotals {
	bySymbol := make(map[string]*symbolTotals)
	for _, rec := range records {
		t, ok := bySymbol[rec.Symbol]
		if !ok {
			t = &symbolTotals{symbol: rec.Symbol}
			bySymbol[rec.Symbol] = t
		}
		switch orderlog.Status(rec.Status) {
		case orderlog.StatusRejected:
			t.rejected++
			continue
		case orderlog.StatusError:
			t.errored++
			continue
		case orderlog.StatusFilled:
		default:
			continue
		}
		v, ok := rec.Entry().Notional()
		if !ok {
			continue
		}
		switch alert.Side(rec.Side) {
		case alert.SideBuy:
			t.buys++
			t.buyNotional = t.buyNotional.Add(v)
		case alert.SideSell:
			t.sells++
			t.sellNotional = t.sellNotional.Add(v)
		}
	}

	out := make([]symbolTotals, 0, len(bySymbol))
	for _, t := range bySymbol {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

func writeOrdersXLSX(path string, records []storage.OrderRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), ordersSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	header, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return err
	}
	quote, err := fx.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return err
	}

	orderHeader := []interface{}{"ID", "Time (UTC)", "Symbol", "Side", "Status", "Price", "Quantity", "Notional", "Message"}
	if err := writeHeader(fx, ordersSheet, orderHeader, header); err != nil {
		return err
	}
	for i, rec := range records {
		row := []interface{}{
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Side,
			rec.Status,
			cellNullable(rec.Price),
			cellNullable(rec.Quantity),
			"",
			rec.Message,
		}
		if v, ok := rec.Entry().Notional(); ok {
			row[7] = v.InexactFloat64()
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := fx.SetSheetRow(ordersSheet, cell, &row); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		last := len(records) + 1
		_ = fx.SetCellStyle(ordersSheet, "H2", fmt.Sprintf("H%d", last), quote)
	}
	for col, width := range map[string]float64{"A": 8, "B": 22, "C": 12, "D": 8, "E": 10, "F": 14, "G": 14, "H": 14, "I": 40} {
		_ = fx.SetColWidth(ordersSheet, col, col, width)
	}
	_ = fx.SetPanes(ordersSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	summaryHeader := []interface{}{"Symbol", "Buys", "Buy notional", "Sells", "Sell notional", "Net", "Rejected", "Errors"}
	if err := writeHeader(fx, summarySheet, summaryHeader, header); err != nil {
		return err
	}
	totals := summarizeBySymbol(records)
	for i, t := range totals {
		row := []interface{}{
			t.symbol,
			t.buys,
			t.buyNotional.InexactFloat64(),
			t.sells,
			t.sellNotional.InexactFloat64(),
			t.net().InexactFloat64(),
			t.rejected,
			t.errored,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := fx.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	if len(totals) > 0 {
		last := len(totals) + 1
		_ = fx.SetCellStyle(summarySheet, "C2", fmt.Sprintf("C%d", last), quote)
		_ = fx.SetCellStyle(summarySheet, "E2", fmt.Sprintf("F%d", last), quote)
	}
	_ = fx.SetColWidth(summarySheet, "A", "A", 12)
	_ = fx.SetColWidth(summarySheet, "B", "H", 14)

	return fx.SaveAs(path)
}

func writeHeader(fx *excelize.File, sheet string, cols []interface{}, style int) error {
	if err := fx.SetSheetRow(sheet, "A1", &cols); err != nil {
		return err
	}
	end, _ := excelize.CoordinatesToCellName(len(cols), 1)
	return fx.SetCellStyle(sheet, "A1", end, style)
}

func cellNullable(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return ""
	}
	return d.Decimal.InexactFloat64()
}
