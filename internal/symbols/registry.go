// Package symbols maps the source venue's short coin names to destination
// contract symbols and answers lot-constraint questions about them.
//
// The Registry is populated from the venue's instruments endpoint at
// startup and refreshed periodically; between refreshes lookups are served
// from memory. Quantity and price alignment use decimal arithmetic so a
// step of 0.001 never produces 0.30000000000000004-style quantities on
// the wire.
package symbols

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"hl-mirror/pkg/types"
)

// quoteCoin is the settlement currency suffix of every linear contract.
const quoteCoin = "USDT"

// FullSymbol converts a short coin name to the contract symbol ("BTC" →
// "BTCUSDT"). Already-full symbols pass through unchanged.
func FullSymbol(coin string) string {
	c := strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(c, quoteCoin) {
		return c
	}
	return c + quoteCoin
}

// ShortCoin strips the quote suffix ("BTCUSDT" → "BTC").
func ShortCoin(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), quoteCoin)
}

// Registry holds the destination venue's instrument catalog, keyed by
// contract symbol. Safe for concurrent use; Update replaces the whole
// catalog atomically.
type Registry struct {
	mu    sync.RWMutex
	bySym map[string]types.Instrument
}

// NewRegistry creates an empty registry. Lookups fail until Update is called.
func NewRegistry() *Registry {
	return &Registry{bySym: make(map[string]types.Instrument)}
}

// Update replaces the catalog with a fresh instruments listing.
func (r *Registry) Update(instruments []types.Instrument) {
	next := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		next[inst.Symbol] = inst
	}
	r.mu.Lock()
	r.bySym = next
	r.mu.Unlock()
}

// Lookup returns the instrument for a short coin name or full symbol.
func (r *Registry) Lookup(coin string) (types.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.bySym[FullSymbol(coin)]
	return inst, ok
}

// Listed reports whether the destination venue lists the coin.
func (r *Registry) Listed(coin string) bool {
	_, ok := r.Lookup(coin)
	return ok
}

// Size returns how many instruments the registry currently holds.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySym)
}

// MinOrderQty returns the instrument's minimum lot, or zero if unknown.
func (r *Registry) MinOrderQty(coin string) decimal.Decimal {
	inst, ok := r.Lookup(coin)
	if !ok {
		return decimal.Zero
	}
	min, err := decimal.NewFromString(inst.MinOrderQty)
	if err != nil {
		return decimal.Zero
	}
	return min
}

// ClampQty floors qty to the instrument's quantity step and rejects it
// (returns zero) if the result falls below the minimum lot. A zero or
// missing step leaves the quantity untouched apart from the lot check.
func ClampQty(qty decimal.Decimal, inst types.Instrument) decimal.Decimal {
	if qty.Sign() <= 0 {
		return decimal.Zero
	}
	step, err := decimal.NewFromString(inst.QtyStep)
	if err == nil && step.Sign() > 0 {
		qty = qty.Div(step).Floor().Mul(step)
	}
	min, err := decimal.NewFromString(inst.MinOrderQty)
	if err == nil && qty.LessThan(min) {
		return decimal.Zero
	}
	return qty
}

// AlignPrice rounds price down to the instrument's tick size.
func AlignPrice(price decimal.Decimal, inst types.Instrument) decimal.Decimal {
	tick, err := decimal.NewFromString(inst.TickSize)
	if err != nil || tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}
