// Package sizing converts a source-venue fill into a destination order
// quantity under the account's configured policy.
package sizing

import (
	"github.com/shopspring/decimal"

	"hl-mirror/internal/config"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// Calculator applies one account's sizing policy. Safe for concurrent
// use; all state is the immutable policy snapshot.
type Calculator struct {
	policy config.SizingConfig
}

// New creates a calculator over a policy snapshot.
func New(policy config.SizingConfig) *Calculator {
	return &Calculator{policy: policy}
}

// Quantity returns the destination order quantity for a source fill of
// sourceSize at sourcePrice, step-aligned to inst. A zero result means
// "do not trade": either the target notional fell below the copy floor,
// or the aligned quantity fell below the instrument's minimum lot.
func (c *Calculator) Quantity(sourceSize, sourcePrice float64, inst types.Instrument) decimal.Decimal {
	if sourcePrice <= 0 || sourceSize <= 0 {
		return decimal.Zero
	}

	price := decimal.NewFromFloat(sourcePrice)

	var notional decimal.Decimal
	switch c.policy.Mode {
	case config.SizingFixed:
		notional = decimal.NewFromFloat(c.policy.FixedAmount)
	case config.SizingRatio:
		notional = decimal.NewFromFloat(sourceSize).
			Mul(price).
			Mul(decimal.NewFromFloat(c.policy.BaseMarginAmount))
	default:
		return decimal.Zero
	}

	floor := decimal.NewFromFloat(c.policy.MinCopyValue)
	if notional.LessThan(floor) {
		if !c.policy.ForceMinAmount {
			return decimal.Zero
		}
		notional = floor
	}

	qty := notional.Div(price)
	return symbols.ClampQty(qty, inst)
}
