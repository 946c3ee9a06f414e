// Package twap tracks the slice streams of source-venue TWAP parent
// orders.
//
// The source venue reports each TWAP slice as an ordinary fill carrying
// the parent order id. The true slice count is never announced, so the
// aggregator only ever knows how many slices it has observed and how
// many of those it managed to mirror. Notifications report progress as
// "followed/observed (size followed)".
package twap

import (
	"fmt"
	"sync"
	"time"
)

// gcIdle is how long a parent may go without a new slice before it is
// presumed complete and dropped.
const gcIdle = time.Hour

// Order is the aggregate state of one TWAP parent order.
type Order struct {
	OID           int64
	Coin          string
	Side          string  // source format, "BUY" or "SELL"
	SliceCount    int     // slices observed so far
	TotalSize     float64 // sum of observed slice sizes
	FollowedCount int
	FollowedSize  float64
	LastSlice     time.Time
}

// Progress renders the notification progress line, e.g. "3/5 (0.150)".
func (o *Order) Progress() string {
	return fmt.Sprintf("%d/%d (%.4f)", o.FollowedCount, o.SliceCount, o.FollowedSize)
}

// Aggregator tracks one account's TWAP parents by source order id.
type Aggregator struct {
	mu     sync.Mutex
	orders map[int64]*Order
	now    func() time.Time
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		orders: make(map[int64]*Order),
		now:    time.Now,
	}
}

// IsParent reports whether oid belongs to a tracked TWAP parent.
// oid 0 (no parent) is never tracked.
func (a *Aggregator) IsParent(oid int64) bool {
	if oid == 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.orders[oid]
	return ok
}

// AddSlice records one observed slice for the parent, creating the
// parent on first sight, and returns its updated state.
func (a *Aggregator) AddSlice(oid int64, coin, side string, size float64) *Order {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[oid]
	if !ok {
		o = &Order{OID: oid, Coin: coin, Side: side}
		a.orders[oid] = o
	}
	o.SliceCount++
	o.TotalSize += size
	o.LastSlice = a.now()
	return o
}

// MarkFollowed records that one slice of the parent was successfully
// mirrored with the given destination quantity. Returns the updated
// state, or nil for an untracked parent.
func (a *Aggregator) MarkFollowed(oid int64, size float64) *Order {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[oid]
	if !ok {
		return nil
	}
	o.FollowedCount++
	o.FollowedSize += size
	return o
}

// GC drops parents that have been idle past the completion threshold
// and returns how many were removed.
func (a *Aggregator) GC() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-gcIdle)
	removed := 0
	for oid, o := range a.orders {
		if o.LastSlice.Before(cutoff) {
			delete(a.orders, oid)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked parents.
func (a *Aggregator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.orders)
}
