package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"alert-trader/internal/orderlog"
)

// OrderRecord is a persisted order log row.
type OrderRecord struct {
	ID        int64
	CreatedAt time.Time
	Symbol    string
	Side      string
	Price     decimal.NullDecimal
	Quantity  decimal.NullDecimal
	Status    string
	Message   string
}

// Entry converts the row back into an order log entry.
func (r OrderRecord) Entry() orderlog.Entry {
	return orderlog.Entry{
		Timestamp: r.CreatedAt,
		Symbol:    r.Symbol,
		Side:      r.Side,
		Price:     r.Price,
		Quantity:  r.Quantity,
		Status:    orderlog.Status(r.Status),
		Message:   r.Message,
	}
}

// RecordFromEntry builds the row for an order log entry.
func RecordFromEntry(e orderlog.Entry) OrderRecord {
	return OrderRecord{
		CreatedAt: e.Timestamp,
		Symbol:    e.Symbol,
		Side:      e.Side,
		Price:     e.Price,
		Quantity:  e.Quantity,
		Status:    string(e.Status),
		Message:   e.Message,
	}
}

// nullableString renders a NullDecimal as a NUMERIC-compatible parameter.
func nullableString(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
