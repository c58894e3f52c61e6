package market

import "time"

// StoreSummary describes presence and staleness of one store.
type StoreSummary struct {
	Count      int        `json:"count"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
	AgeSeconds *float64   `json:"ageSeconds,omitempty"`
}

// BalanceSummary adds the existence flag of the single balances record.
type BalanceSummary struct {
	Exists bool `json:"exists"`
	StoreSummary
}

// Summary aggregates the three stores for health reporting.
type Summary struct {
	Balances BalanceSummary `json:"balances"`
	Filters  StoreSummary   `json:"filters"`
	Prices   StoreSummary   `json:"prices"`
}

// Reporter builds cache summaries. It never mutates the stores.
type Reporter struct {
	filters  *FilterStore
	prices   *PriceStore
	balances *BalanceStore
	now      func() time.Time
}

// NewReporter wires the reporter to the stores it observes.
func NewReporter(filters *FilterStore, prices *PriceStore, balances *BalanceStore) *Reporter {
	return &Reporter{filters: filters, prices: prices, balances: balances, now: time.Now}
}

// WithClock overrides the clock used for age computation.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Summarize returns the current summary. Prices report the oldest symbol.
func (r *Reporter) Summarize() Summary {
	now := r.now()
	return Summary{
		Balances: BalanceSummary{
			Exists:       r.balances.Exists(),
			StoreSummary: summarize(r.balances.Len(), r.balances.ObservedAt(), now),
		},
		Filters: summarize(r.filters.Len(), r.filters.ObservedAt(), now),
		Prices:  summarize(r.prices.Len(), r.prices.OldestObservedAt(), now),
	}
}

func summarize(count int, observedAt, now time.Time) StoreSummary {
	out := StoreSummary{Count: count}
	if observedAt.IsZero() {
		return out
	}
	at := observedAt.UTC()
	age := now.Sub(observedAt).Seconds()
	if age < 0 {
		age = 0
	}
	out.ObservedAt = &at
	out.AgeSeconds = &age
	return out
}
