package engine

import (
	"fmt"
	"sync"
	"time"

	"hl-mirror/pkg/types"
)

// memoTTL is how long a close memo stays readable after the close.
const memoTTL = 300 * time.Second

// MemoKind distinguishes why the engine closed a position.
type MemoKind string

const (
	// MemoFollow: the source trader closed, the engine followed.
	MemoFollow MemoKind = "follow"
	// MemoForced: a reduce fell below the minimum lot and was promoted
	// to a full close.
	MemoForced MemoKind = "forced"
)

// LiquidationMemo annotates one engine-initiated close so downstream
// analytics can tell it apart from a user-initiated close.
type LiquidationMemo struct {
	Time       time.Time
	Kind       MemoKind
	Reason     string
	SourceSize float64
	ClosedSize float64
}

// LiquidationMemos holds the account's close memos keyed by
// (symbol, side). Unlike the other per-account state, it is behind a
// mutex: external consumers (analytics, the notification path) read it
// from outside the worker goroutine.
type LiquidationMemos struct {
	mu    sync.Mutex
	memos map[string]LiquidationMemo
	now   func() time.Time
}

// NewLiquidationMemos creates an empty memo table.
func NewLiquidationMemos() *LiquidationMemos {
	return &LiquidationMemos{
		memos: make(map[string]LiquidationMemo),
		now:   time.Now,
	}
}

func memoKey(symbol string, side types.Side) string {
	return fmt.Sprintf("%s_%s", symbol, side)
}

// Write records a memo for (symbol, side), stamping it with the current
// time.
func (m *LiquidationMemos) Write(symbol string, side types.Side, kind MemoKind, reason string, sourceSize, closedSize float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memos[memoKey(symbol, side)] = LiquidationMemo{
		Time:       m.now(),
		Kind:       kind,
		Reason:     reason,
		SourceSize: sourceSize,
		ClosedSize: closedSize,
	}
}

// Read returns the live memo for (symbol, side), if any. Expired memos
// are dropped on access.
func (m *LiquidationMemos) Read(symbol string, side types.Side) (LiquidationMemo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoKey(symbol, side)
	memo, ok := m.memos[key]
	if !ok {
		return LiquidationMemo{}, false
	}
	if m.now().Sub(memo.Time) > memoTTL {
		delete(m.memos, key)
		return LiquidationMemo{}, false
	}
	return memo, true
}

// OrderIdMap maps source order ids to destination order ids so source
// cancels can find their target. Worker-local, no locking.
type OrderIdMap struct {
	m map[int64]string
}

// NewOrderIdMap creates an empty map.
func NewOrderIdMap() *OrderIdMap {
	return &OrderIdMap{m: make(map[int64]string)}
}

// Put records source order id → destination order id.
func (o *OrderIdMap) Put(sourceID int64, destID string) { o.m[sourceID] = destID }

// Get looks up the destination order id.
func (o *OrderIdMap) Get(sourceID int64) (string, bool) {
	id, ok := o.m[sourceID]
	return id, ok
}

// Delete drops the entry after a confirmed cancel or when the
// destination order no longer exists.
func (o *OrderIdMap) Delete(sourceID int64) { delete(o.m, sourceID) }

// Len returns the number of live entries.
func (o *OrderIdMap) Len() int { return len(o.m) }

// stringSet is the shape of the worker-local dedup sets
// (ProcessedTxHashSet, NotifiedOrderSet, ClosedSymbolSet). Accessed only
// from the owning worker goroutine.
type stringSet map[string]struct{}

func newStringSet() stringSet { return make(stringSet) }

func (s stringSet) Add(v string)      { s[v] = struct{}{} }
func (s stringSet) Has(v string) bool { _, ok := s[v]; return ok }
func (s stringSet) Remove(v string)   { delete(s, v) }
