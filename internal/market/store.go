package market

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// snapshot is an immutable generation of a store. It is never mutated after
// being published.
type snapshot[V any] struct {
	entries    map[string]V
	observedAt time.Time
}

// snapshotStore publishes whole generations through an atomic pointer.
// Writers are serialized by mu; readers never lock.
type snapshotStore[V any] struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot[V]]
}

func (s *snapshotStore[V]) load() *snapshot[V] {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return &snapshot[V]{}
}

func (s *snapshotStore[V]) get(key string) (V, time.Time, bool) {
	snap := s.load()
	v, ok := snap.entries[normalizeKey(key)]
	return v, snap.observedAt, ok
}

func (s *snapshotStore[V]) replace(entries map[string]V, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&snapshot[V]{entries: entries, observedAt: at})
}

// upsert copies the current generation, applies one change and publishes the copy.
func (s *snapshotStore[V]) upsert(key string, v V, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.load()
	next := make(map[string]V, len(prev.entries)+1)
	maps.Copy(next, prev.entries)
	next[normalizeKey(key)] = v
	s.current.Store(&snapshot[V]{entries: next, observedAt: at})
}

func (s *snapshotStore[V]) all() (map[string]V, time.Time) {
	snap := s.load()
	return maps.Clone(snap.entries), snap.observedAt
}

func (s *snapshotStore[V]) len() int {
	return len(s.load().entries)
}

func (s *snapshotStore[V]) observedAt() time.Time {
	return s.load().observedAt
}

func (s *snapshotStore[V]) loaded() bool {
	return s.current.Load() != nil
}

func (s *snapshotStore[V]) keys() []string {
	snap := s.load()
	keys := make([]string, 0, len(snap.entries))
	for k := range snap.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// FilterStore holds the per-symbol trading filters.
type FilterStore struct {
	inner snapshotStore[Filter]
}

// NewFilterStore returns an empty filter store.
func NewFilterStore() *FilterStore {
	return &FilterStore{}
}

// Get returns the filter for symbol or ErrNotFound.
func (s *FilterStore) Get(symbol string) (Filter, error) {
	f, _, ok := s.inner.get(symbol)
	if !ok {
		return Filter{}, ErrNotFound
	}
	return f, nil
}

// ReplaceAll validates every filter and swaps in the new generation. On a
// validation error the previous generation stays in place.
func (s *FilterStore) ReplaceAll(filters map[string]Filter, observedAt time.Time) error {
	next := make(map[string]Filter, len(filters))
	for symbol, f := range filters {
		if err := f.Validate(); err != nil {
			return wrapKey(symbol, err)
		}
		next[normalizeKey(symbol)] = f
	}
	s.inner.replace(next, observedAt)
	return nil
}

// All returns a copy of the current generation.
func (s *FilterStore) All() (map[string]Filter, time.Time) {
	return s.inner.all()
}

// Symbols lists cached symbols in lexical order.
func (s *FilterStore) Symbols() []string {
	return s.inner.keys()
}

// Len returns the number of cached filters.
func (s *FilterStore) Len() int { return s.inner.len() }

// ObservedAt returns the time of the last successful replacement.
func (s *FilterStore) ObservedAt() time.Time { return s.inner.observedAt() }

// PriceStore holds per-symbol mid prices.
type PriceStore struct {
	inner snapshotStore[PriceSnapshot]
}

// NewPriceStore returns an empty price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{}
}

// Get returns the price snapshot for symbol or ErrNotFound.
func (s *PriceStore) Get(symbol string) (PriceSnapshot, error) {
	p, _, ok := s.inner.get(symbol)
	if !ok {
		return PriceSnapshot{}, ErrNotFound
	}
	return p, nil
}

// ReplaceAll swaps in a full set of prices observed at observedAt.
func (s *PriceStore) ReplaceAll(prices map[string]decimal.Decimal, observedAt time.Time) error {
	next := make(map[string]PriceSnapshot, len(prices))
	for symbol, mid := range prices {
		if err := validatePrice(symbol, mid); err != nil {
			return err
		}
		next[normalizeKey(symbol)] = PriceSnapshot{Mid: mid, ObservedAt: observedAt}
	}
	s.inner.replace(next, observedAt)
	return nil
}

// Upsert updates a single symbol, used by the streaming feed.
func (s *PriceStore) Upsert(symbol string, mid decimal.Decimal, observedAt time.Time) error {
	if err := validatePrice(symbol, mid); err != nil {
		return err
	}
	s.inner.upsert(symbol, PriceSnapshot{Mid: mid, ObservedAt: observedAt}, observedAt)
	return nil
}

// All returns a copy of the current generation.
func (s *PriceStore) All() (map[string]PriceSnapshot, time.Time) {
	return s.inner.all()
}

// Len returns the number of cached prices.
func (s *PriceStore) Len() int { return s.inner.len() }

// ObservedAt returns the time of the most recent write.
func (s *PriceStore) ObservedAt() time.Time { return s.inner.observedAt() }

// OldestObservedAt returns the oldest per-symbol observation. Streamed
// upserts refresh single symbols, so this is the staleness bound of the set.
func (s *PriceStore) OldestObservedAt() time.Time {
	var oldest time.Time
	for _, p := range s.inner.load().entries {
		if oldest.IsZero() || p.ObservedAt.Before(oldest) {
			oldest = p.ObservedAt
		}
	}
	return oldest
}

// BalanceStore holds free balances for every asset of the account. The whole
// record is replaced on each refresh.
type BalanceStore struct {
	inner snapshotStore[BalanceSnapshot]
}

// NewBalanceStore returns an empty balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{}
}

// Get returns the balance snapshot for asset or ErrNotFound.
func (s *BalanceStore) Get(asset string) (BalanceSnapshot, error) {
	b, _, ok := s.inner.get(asset)
	if !ok {
		return BalanceSnapshot{}, ErrNotFound
	}
	return b, nil
}

// ReplaceAll swaps in a full balance record observed at observedAt.
func (s *BalanceStore) ReplaceAll(balances map[string]decimal.Decimal, observedAt time.Time) error {
	next := make(map[string]BalanceSnapshot, len(balances))
	for asset, free := range balances {
		if err := validateBalance(asset, free); err != nil {
			return err
		}
		next[normalizeKey(asset)] = BalanceSnapshot{Free: free, ObservedAt: observedAt}
	}
	s.inner.replace(next, observedAt)
	return nil
}

// All returns a copy of the current generation.
func (s *BalanceStore) All() (map[string]BalanceSnapshot, time.Time) {
	return s.inner.all()
}

// Exists reports whether a balance record was ever published.
func (s *BalanceStore) Exists() bool { return s.inner.loaded() }

// Len returns the number of assets in the record.
func (s *BalanceStore) Len() int { return s.inner.len() }

// ObservedAt returns the time of the last successful replacement.
func (s *BalanceStore) ObservedAt() time.Time { return s.inner.observedAt() }

func wrapKey(key string, err error) error {
	return &keyError{key: key, err: err}
}

type keyError struct {
	key string
	err error
}

func (e *keyError) Error() string { return e.key + ": " + e.err.Error() }

func (e *keyError) Unwrap() error { return e.err }
