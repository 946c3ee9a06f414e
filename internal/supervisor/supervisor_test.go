package supervisor

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"hl-mirror/internal/config"
	"hl-mirror/internal/engine"
)

type fakeRunner struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	return ctx.Err()
}

func (r *fakeRunner) state() (started, stopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.stopped
}

func account(name string, enabled bool, ratio float64) config.AccountConfig {
	return config.AccountConfig{
		Name:    name,
		Enabled: enabled,
		APIKey:  "k", APISecret: "s",
		Mode: "demo",
		Sizing: config.SizingConfig{
			Mode:             config.SizingRatio,
			BaseMarginAmount: ratio,
		},
		Leverage: config.LeverageConfig{Default: 10},
	}
}

func testSupervisor(accounts ...config.AccountConfig) (*Supervisor, map[string]*fakeRunner) {
	cfg := &config.Config{
		Venue:    config.VenueConfig{BaseURL: "http://localhost", DemoBaseURL: "http://localhost"},
		Engine:   config.EngineConfig{PollInterval: time.Second, InstrumentRefresh: time.Hour},
		Accounts: accounts,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := New(cfg, nil, logger)

	runners := make(map[string]*fakeRunner)
	var mu sync.Mutex
	s.newWorker = func(acct config.AccountConfig, _ chan<- engine.PositionEvent) (runner, error) {
		r := &fakeRunner{}
		mu.Lock()
		runners[acct.Name] = r
		mu.Unlock()
		return r, nil
	}
	return s, runners
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestApplyConfigStartsEnabledAccountsOnly(t *testing.T) {
	t.Parallel()
	s, runners := testSupervisor(
		account("alpha", true, 0.1),
		account("beta", false, 0.1),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.applyConfig(ctx, s.cfg)

	waitFor(t, func() bool {
		r, ok := runners["alpha"]
		if !ok {
			return false
		}
		started, _ := r.state()
		return started
	})

	if _, ok := runners["beta"]; ok {
		t.Error("disabled account got a worker")
	}
	names := s.WorkerNames()
	if len(names) != 1 || names[0] != "alpha" {
		t.Errorf("workers = %v, want [alpha]", names)
	}
}

func TestReloadReplacesOnlyChangedWorkers(t *testing.T) {
	t.Parallel()
	s, runners := testSupervisor(
		account("alpha", true, 0.1),
		account("beta", true, 0.1),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.applyConfig(ctx, s.cfg)
	first := map[string]*fakeRunner{"alpha": runners["alpha"], "beta": runners["beta"]}

	// Change beta's sizing; alpha stays identical.
	next := &config.Config{
		Venue:  s.cfg.Venue,
		Engine: s.cfg.Engine,
		Accounts: []config.AccountConfig{
			account("alpha", true, 0.1),
			account("beta", true, 0.5),
		},
	}
	s.applyConfig(ctx, next)

	if _, stopped := first["alpha"].state(); stopped {
		t.Error("unchanged worker alpha was restarted")
	}
	if _, stopped := first["beta"].state(); !stopped {
		t.Error("changed worker beta was not stopped")
	}
	waitFor(t, func() bool {
		if r := runners["beta"]; r != nil && r != first["beta"] {
			started, _ := r.state()
			return started
		}
		return false
	})

	names := s.WorkerNames()
	sort.Strings(names)
	if len(names) != 2 {
		t.Errorf("workers = %v, want both accounts", names)
	}
}

func TestDisableStopsWorker(t *testing.T) {
	t.Parallel()
	s, runners := testSupervisor(account("alpha", true, 0.1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.applyConfig(ctx, s.cfg)
	waitFor(t, func() bool {
		if r := runners["alpha"]; r != nil {
			started, _ := r.state()
			return started
		}
		return false
	})

	next := &config.Config{
		Venue:    s.cfg.Venue,
		Engine:   s.cfg.Engine,
		Accounts: []config.AccountConfig{account("alpha", false, 0.1)},
	}
	s.applyConfig(ctx, next)

	if _, stopped := runners["alpha"].state(); !stopped {
		t.Error("disabled account's worker still running")
	}
	if len(s.WorkerNames()) != 0 {
		t.Errorf("workers = %v, want none", s.WorkerNames())
	}
}

func TestStopAllJoinsWorkers(t *testing.T) {
	t.Parallel()
	s, runners := testSupervisor(
		account("alpha", true, 0.1),
		account("beta", true, 0.1),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.applyConfig(ctx, s.cfg)
	waitFor(t, func() bool {
		for _, name := range []string{"alpha", "beta"} {
			r := runners[name]
			if r == nil {
				return false
			}
			if started, _ := r.state(); !started {
				return false
			}
		}
		return true
	})

	s.stopAll()

	for name, r := range runners {
		if _, stopped := r.state(); !stopped {
			t.Errorf("worker %s not joined", name)
		}
	}
}
