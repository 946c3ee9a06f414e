package symbols

// Allowlist is a per-account coin filter. When disabled it permits every
// coin (the registry's Listed check then becomes the only gate).
type Allowlist struct {
	enabled bool
	coins   map[string]bool
}

// NewAllowlist builds a filter from a coin list. Names are matched on the
// short coin form, case-insensitively.
func NewAllowlist(enabled bool, coins []string) *Allowlist {
	set := make(map[string]bool, len(coins))
	for _, c := range coins {
		set[ShortCoin(c)] = true
	}
	return &Allowlist{enabled: enabled, coins: set}
}

// Enabled reports whether the filter is active.
func (a *Allowlist) Enabled() bool { return a.enabled }

// Allowed reports whether the coin may be mirrored. A disabled filter
// allows everything.
func (a *Allowlist) Allowed(coin string) bool {
	if !a.enabled {
		return true
	}
	return a.coins[ShortCoin(coin)]
}

// Coins returns the configured coin set (for status reporting).
func (a *Allowlist) Coins() []string {
	out := make([]string, 0, len(a.coins))
	for c := range a.coins {
		out = append(out, c)
	}
	return out
}
