package service

import (
	"errors"
	"fmt"
)

// Store names used in refresh errors, logs and metrics.
const (
	StoreBalances = "balances"
	StoreFilters  = "filters"
	StorePrices   = "prices"
)

// ErrPlacement marks an order the exchange could not be asked to place
// (transport failure, 5xx). The order outcome is unknown to the caller.
var ErrPlacement = errors.New("service: order placement failed")

// RefreshError reports a failed store refresh. The store keeps its previous
// snapshot.
type RefreshError struct {
	Store string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.Store, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// LogError reports a failed durable write of an order log entry. The entry
// is still in the in-memory log.
type LogError struct {
	Sink string
	Err  error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("order log sink %s: %v", e.Sink, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }
