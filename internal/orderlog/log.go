// Package orderlog keeps a bounded, in-memory record of order outcomes.
package orderlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCapacity bounds the log when no capacity is configured.
const DefaultCapacity = 100

// Status is the outcome of an order attempt.
type Status string

const (
	StatusFilled   Status = "filled"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusError:
		return true
	}
	return false
}

// ErrInvalidEntry indicates an entry that can never be appended.
var ErrInvalidEntry = errors.New("orderlog: invalid entry")

// Entry is one immutable order outcome. Price and quantity are null for
// failures that happened before sizing.
type Entry struct {
	Timestamp time.Time           `json:"timestamp"`
	Symbol    string              `json:"symbol"`
	Side      string              `json:"side"`
	Price     decimal.NullDecimal `json:"price"`
	Quantity  decimal.NullDecimal `json:"quantity"`
	Status    Status              `json:"status"`
	Message   string              `json:"message"`
}

// Validate checks the entry status and timestamp.
func (e Entry) Validate() error {
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	return nil
}

// Notional returns price*quantity when both are known.
func (e Entry) Notional() (decimal.Decimal, bool) {
	if !e.Price.Valid || !e.Quantity.Valid {
		return decimal.Zero, false
	}
	return e.Price.Decimal.Mul(e.Quantity.Decimal), true
}

// Sink mirrors appended entries to durable storage.
type Sink interface {
	AppendOrder(ctx context.Context, entry Entry) error
}

// Log is a fixed-capacity ring buffer. Appends are serialized; Recent may run
// concurrently with appends and always returns whole entries.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	next  int
	count int
	total uint64
}

// New returns a log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]Entry, capacity)}
}

// Append stores entry, evicting the oldest one when the log is full.
func (l *Log) Append(entry Entry) error {
	return l.push(entry, true)
}

func (l *Log) push(entry Entry, count bool) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	entry.Symbol = strings.ToUpper(strings.TrimSpace(entry.Symbol))
	entry.Side = strings.ToUpper(strings.TrimSpace(entry.Side))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = entry
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	if count {
		l.total++
	}
	return nil
}

// Recent returns up to limit entries, most recent first. A non-positive limit
// returns every retained entry.
func (l *Log) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap returns the capacity.
func (l *Log) Cap() int { return len(l.buf) }

// Total returns how many entries were appended since start, evicted ones
// included. Restored history is not counted.
func (l *Log) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Restore seeds the log with entries ordered most recent first, as returned
// by a durable sink. Invalid entries are skipped.
func (l *Log) Restore(entries []Entry) int {
	restored := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if err := l.push(entries[i], false); err == nil {
			restored++
		}
	}
	return restored
}
