package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hl-mirror/pkg/types"
)

const sampleYAML = `
venue:
  base_url: "https://api.example.test"
  demo_base_url: "https://api-demo.example.test"
  ws_private_url: "wss://stream.example.test/v5/private"
store:
  data_dir: "/tmp/hl-mirror-test"
engine:
  poll_interval: 1s
logging:
  level: "info"
  format: "text"
accounts:
  - name: "main"
    enabled: true
    api_key: "k"
    api_secret: "s"
    mode: "demo"
    source_address: "0xabc"
    allowlist:
      enabled: true
      coins: ["BTC", "ETH"]
    sizing:
      mode: "ratio"
      base_margin_amount: 0.1
      min_copy_value: 10
    leverage:
      default: 20
      overrides:
        BTC: 50
  - name: "spare"
    enabled: false
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}
	acc := cfg.Accounts[0]
	if acc.Name != "main" || acc.Mode != types.ModeDemo {
		t.Errorf("account = %+v", acc)
	}
	if acc.Sizing.Mode != "ratio" || acc.Sizing.BaseMarginAmount != 0.1 {
		t.Errorf("sizing = %+v", acc.Sizing)
	}
	if cfg.Engine.PollInterval != time.Second {
		t.Errorf("poll_interval = %v, want 1s", cfg.Engine.PollInterval)
	}
	// Defaulted
	if cfg.Engine.InstrumentRefresh != time.Hour {
		t.Errorf("instrument_refresh = %v, want 1h default", cfg.Engine.InstrumentRefresh)
	}
}

func TestLeverageFor(t *testing.T) {
	t.Parallel()
	l := LeverageConfig{Default: 20, Overrides: map[string]int{"BTC": 50}}

	if got := l.For("BTC"); got != 50 {
		t.Errorf("For(BTC) = %d, want 50", got)
	}
	if got := l.For("btc"); got != 50 {
		t.Errorf("For(btc) = %d, want 50 (case-insensitive)", got)
	}
	if got := l.For("SOL"); got != 20 {
		t.Errorf("For(SOL) = %d, want default 20", got)
	}
}

func TestValidateRejectsBadSizing(t *testing.T) {
	t.Parallel()
	acc := AccountConfig{
		Name:      "a",
		Enabled:   true,
		APIKey:    "k",
		APISecret: "s",
		Mode:      types.ModeLive,
		Sizing:    SizingConfig{Mode: "fixed", FixedAmount: 0},
		Leverage:  LeverageConfig{Default: 10},
	}
	if err := acc.Validate(); err == nil {
		t.Error("expected error for fixed mode with zero amount")
	}

	acc.Sizing = SizingConfig{Mode: "martingale"}
	if err := acc.Validate(); err == nil {
		t.Error("expected error for unknown sizing mode")
	}
}

func TestDisabledAccountSkipsCredentialCheck(t *testing.T) {
	t.Parallel()
	acc := AccountConfig{Name: "idle", Enabled: false}
	if err := acc.Validate(); err != nil {
		t.Errorf("disabled account should validate without credentials: %v", err)
	}
}

func TestChangedDetectsNewerFile(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Changed() {
		t.Error("freshly loaded config should not report changed")
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	if !cfg.Changed() {
		t.Error("config should report changed after mtime bump")
	}
}
