// Package config defines all configuration for the mirror bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via HLM_* environment variables.
//
// The supervisor watches the file's modified time and reloads when it
// changes, replacing only the workers whose account section differs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hl-mirror/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venue    VenueConfig     `mapstructure:"venue"`
	Store    StoreConfig     `mapstructure:"store"`
	Engine   EngineConfig    `mapstructure:"engine"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Accounts []AccountConfig `mapstructure:"accounts"`

	// path and mtime of the file this snapshot was loaded from;
	// used by the supervisor for change detection.
	path    string
	modTime time.Time
}

// VenueConfig holds destination-venue endpoints shared by all accounts.
// DemoBaseURL is used by accounts whose mode is "demo".
type VenueConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	DemoBaseURL string `mapstructure:"demo_base_url"`
	WSPrivate   string `mapstructure:"ws_private_url"`
	RecvWindow  int    `mapstructure:"recv_window_ms"`
}

// StoreConfig sets where the local event log database lives.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// EngineConfig tunes the per-account mirror workers.
//
//   - PollInterval: how often a worker asks the event log for pending events.
//   - InstrumentRefresh: how often the symbol registry re-fetches contracts.
type EngineConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	InstrumentRefresh time.Duration `mapstructure:"instrument_refresh"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AccountConfig is one follower account. Name is the immutable key the
// supervisor uses to match workers across reloads.
type AccountConfig struct {
	Name          string          `mapstructure:"name"`
	Enabled       bool            `mapstructure:"enabled"`
	APIKey        string          `mapstructure:"api_key"`
	APISecret     string          `mapstructure:"api_secret"`
	Mode          types.VenueMode `mapstructure:"mode"`
	SourceAddress string          `mapstructure:"source_address"`
	WebhookURL    string          `mapstructure:"webhook_url"`

	Allowlist AllowlistConfig `mapstructure:"allowlist"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Leverage  LeverageConfig  `mapstructure:"leverage"`
	AgeFilter AgeFilterConfig `mapstructure:"age_filter"`
}

// AllowlistConfig restricts which coins the account mirrors. When disabled,
// every coin the destination venue lists is permitted.
type AllowlistConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Coins   []string `mapstructure:"coins"`
}

// SizingConfig is the account's position-sizing policy.
//
//   - Mode "fixed": every mirrored order targets FixedAmount USD notional.
//   - Mode "ratio": target notional = source notional × BaseMarginAmount.
//   - MinCopyValue: USD floor; below it the order is skipped, unless
//     ForceMinAmount promotes it to exactly MinCopyValue.
type SizingConfig struct {
	Mode             string  `mapstructure:"mode"`
	FixedAmount      float64 `mapstructure:"fixed_amount"`
	BaseMarginAmount float64 `mapstructure:"base_margin_amount"`
	MinCopyValue     float64 `mapstructure:"min_copy_value"`
	ForceMinAmount   bool    `mapstructure:"force_min_amount_on_small_order"`
}

// Sizing modes.
const (
	SizingFixed = "fixed"
	SizingRatio = "ratio"
)

// LeverageConfig sets the leverage applied before position-affecting orders.
// Overrides maps short coin names to leverage, e.g. {BTC: 50, ETH: 30}.
type LeverageConfig struct {
	Default   int            `mapstructure:"default"`
	Overrides map[string]int `mapstructure:"overrides"`
}

// For returns the leverage for a coin: the per-coin override if present,
// else the account default.
func (l LeverageConfig) For(coin string) int {
	if lv, ok := l.Overrides[strings.ToUpper(coin)]; ok {
		return lv
	}
	return l.Default
}

// AgeFilterConfig skips source events older than MaxHours when enabled.
type AgeFilterConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	MaxHours float64 `mapstructure:"max_hours"`
}

// MaxAge returns the filter window as a duration.
func (a AgeFilterConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxHours * float64(time.Hour))
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: HLM_API_KEY_<ACCOUNT>, HLM_API_SECRET_<ACCOUNT>.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Defaults
	if cfg.Engine.PollInterval <= 0 {
		cfg.Engine.PollInterval = 2 * time.Second
	}
	if cfg.Engine.InstrumentRefresh <= 0 {
		cfg.Engine.InstrumentRefresh = time.Hour
	}
	if cfg.Venue.RecvWindow <= 0 {
		cfg.Venue.RecvWindow = 5000
	}

	// Override per-account secrets from env: HLM_API_KEY_MAIN, etc.
	for i := range cfg.Accounts {
		suffix := strings.ToUpper(cfg.Accounts[i].Name)
		if key := os.Getenv("HLM_API_KEY_" + suffix); key != "" {
			cfg.Accounts[i].APIKey = key
		}
		if secret := os.Getenv("HLM_API_SECRET_" + suffix); secret != "" {
			cfg.Accounts[i].APISecret = secret
		}
	}

	cfg.path = path
	if fi, err := os.Stat(path); err == nil {
		cfg.modTime = fi.ModTime()
	}

	return &cfg, nil
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string { return c.path }

// ModTime returns the config file's modified time at load.
func (c *Config) ModTime() time.Time { return c.modTime }

// Changed reports whether the config file on disk is newer than this snapshot.
func (c *Config) Changed() bool {
	fi, err := os.Stat(c.path)
	if err != nil {
		return false
	}
	return fi.ModTime().After(c.modTime)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("venue.base_url is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	seen := make(map[string]bool)
	for i := range c.Accounts {
		if err := c.Accounts[i].Validate(); err != nil {
			return fmt.Errorf("accounts[%d] (%s): %w", i, c.Accounts[i].Name, err)
		}
		if seen[c.Accounts[i].Name] {
			return fmt.Errorf("duplicate account name %q", c.Accounts[i].Name)
		}
		seen[c.Accounts[i].Name] = true
	}
	return nil
}

// Validate checks one account section. A disabled account only needs a name:
// the supervisor never starts a worker for it, so missing credentials are
// not an error until it is enabled.
func (a *AccountConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !a.Enabled {
		return nil
	}
	if a.APIKey == "" || a.APISecret == "" {
		return fmt.Errorf("api_key and api_secret are required (set HLM_API_KEY_%s)", strings.ToUpper(a.Name))
	}
	switch a.Mode {
	case types.ModeLive, types.ModeDemo:
	default:
		return fmt.Errorf("mode must be \"live\" or \"demo\", got %q", a.Mode)
	}
	switch a.Sizing.Mode {
	case "fixed":
		if a.Sizing.FixedAmount <= 0 {
			return fmt.Errorf("sizing.fixed_amount must be > 0 in fixed mode")
		}
	case "ratio":
		if a.Sizing.BaseMarginAmount <= 0 {
			return fmt.Errorf("sizing.base_margin_amount must be > 0 in ratio mode")
		}
	default:
		return fmt.Errorf("sizing.mode must be \"fixed\" or \"ratio\", got %q", a.Sizing.Mode)
	}
	if a.Sizing.MinCopyValue < 0 {
		return fmt.Errorf("sizing.min_copy_value must be >= 0")
	}
	if a.Leverage.Default <= 0 {
		return fmt.Errorf("leverage.default must be > 0")
	}
	if a.AgeFilter.Enabled && a.AgeFilter.MaxHours <= 0 {
		return fmt.Errorf("age_filter.max_hours must be > 0 when enabled")
	}
	return nil
}
