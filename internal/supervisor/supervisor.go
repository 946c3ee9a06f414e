// Package supervisor owns the account workers: it starts one mirror
// worker per enabled account, keeps the shared instrument registry
// fresh, and hot-reloads the configuration file.
//
// Reload is mtime-driven: when the file changes, per-account snapshots
// are diffed and only the affected workers are replaced (stop → join →
// start). Unaffected accounts keep running through a reload.
package supervisor

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"hl-mirror/internal/config"
	"hl-mirror/internal/engine"
	"hl-mirror/internal/exchange"
	"hl-mirror/internal/notify"
	"hl-mirror/internal/store"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// configPollInterval is how often the configuration file's mtime is
// checked.
const configPollInterval = 5 * time.Second

// eventBuffer sizes the engine event channel the supervisor drains.
const eventBuffer = 256

// Supervisor runs and hot-reloads the per-account mirror workers.
type Supervisor struct {
	cfg      *config.Config
	store    *store.Store
	registry *symbols.Registry
	market   instrumentSource
	logger   *slog.Logger

	events chan engine.PositionEvent

	mu      sync.Mutex
	workers map[string]*workerHandle

	// Worker construction is swappable for tests.
	newWorker func(account config.AccountConfig, events chan<- engine.PositionEvent) (runner, error)
}

// instrumentSource is the slice of the venue client the registry
// refresh needs.
type instrumentSource interface {
	Instruments(ctx context.Context) ([]types.Instrument, error)
}

// runner is one account worker's lifecycle.
type runner interface {
	Run(ctx context.Context) error
}

type workerHandle struct {
	account config.AccountConfig
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires a supervisor over a loaded configuration and an open store.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		store:    st,
		registry: symbols.NewRegistry(),
		logger:   logger.With("component", "supervisor"),
		events:   make(chan engine.PositionEvent, eventBuffer),
		workers:  make(map[string]*workerHandle),
	}

	// The instrument catalog is public; one unauthenticated client
	// serves every account.
	s.market = exchange.NewClient(cfg.Venue.BaseURL, exchange.NewAuth("", "", cfg.Venue.RecvWindow), logger)
	s.newWorker = s.buildWorker
	return s
}

// Run blocks until ctx is cancelled: initial registry load, worker
// startup, then the refresh/reload/event loop.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.refreshRegistry(ctx); err != nil {
		// Workers skip every fill until the catalog loads; keep going
		// and let the refresh ticker retry.
		s.logger.Error("initial instrument load failed", "error", err)
	}

	s.applyConfig(ctx, s.cfg)

	refresh := time.NewTicker(s.cfg.Engine.InstrumentRefresh)
	defer refresh.Stop()
	watch := time.NewTicker(configPollInterval)
	defer watch.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()

		case <-refresh.C:
			if err := s.refreshRegistry(ctx); err != nil {
				s.logger.Warn("instrument refresh failed", "error", err)
			}

		case <-watch.C:
			s.maybeReload(ctx)

		case ev := <-s.events:
			s.logger.Info("position event",
				"kind", ev.Kind,
				"account", ev.Account,
				"symbol", ev.Symbol,
				"side", ev.Side,
				"qty", ev.Qty,
				"pnl", ev.RealizedPnL,
			)
		}
	}
}

// Events exposes the engine event stream for external subscribers.
// The supervisor's own loop logs each event; subscribers that want the
// raw stream should consume before Run starts.
func (s *Supervisor) Events() <-chan engine.PositionEvent { return s.events }

func (s *Supervisor) refreshRegistry(ctx context.Context) error {
	instruments, err := s.market.Instruments(ctx)
	if err != nil {
		return err
	}
	s.registry.Update(instruments)
	s.logger.Info("instrument registry refreshed", "symbols", s.registry.Size())
	return nil
}

// maybeReload re-reads the config when its mtime moved and replaces
// only the workers whose account snapshot actually changed.
func (s *Supervisor) maybeReload(ctx context.Context) {
	if !s.cfg.Changed() {
		return
	}

	fresh, err := config.Load(s.cfg.Path())
	if err != nil {
		s.logger.Error("config reload failed, keeping current", "error", err)
		return
	}
	if err := fresh.Validate(); err != nil {
		s.logger.Error("reloaded config invalid, keeping current", "error", err)
		return
	}

	s.logger.Info("configuration changed, applying")
	s.cfg = fresh
	s.applyConfig(ctx, fresh)
}

// applyConfig reconciles running workers against the wanted account
// set: stop workers whose account disappeared, was disabled, or whose
// snapshot changed; start workers for new or changed enabled accounts.
func (s *Supervisor) applyConfig(ctx context.Context, cfg *config.Config) {
	wanted := make(map[string]config.AccountConfig)
	for _, account := range cfg.Accounts {
		if account.Enabled {
			wanted[account.Name] = account
		}
	}

	s.mu.Lock()
	var toStop []*workerHandle
	for name, h := range s.workers {
		next, keep := wanted[name]
		if keep && reflect.DeepEqual(h.account, next) {
			delete(wanted, name)
			continue
		}
		toStop = append(toStop, h)
		delete(s.workers, name)
	}
	s.mu.Unlock()

	for _, h := range toStop {
		s.logger.Info("stopping worker", "account", h.account.Name)
		h.cancel()
		<-h.done
	}

	for name, account := range wanted {
		if err := s.startWorker(ctx, account); err != nil {
			s.logger.Error("worker start failed, account disabled until next reload",
				"account", name, "error", err)
			s.notifyConfigError(ctx, account, err)
		}
	}
}

func (s *Supervisor) startWorker(ctx context.Context, account config.AccountConfig) error {
	if err := account.Validate(); err != nil {
		return err
	}

	w, err := s.newWorker(account, s.events)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	h := &workerHandle{account: account, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.workers[account.Name] = h
	s.mu.Unlock()

	s.logger.Info("starting worker", "account", account.Name, "mode", account.Mode)
	go func() {
		defer close(h.done)
		if err := w.Run(wctx); err != nil && err != context.Canceled {
			s.logger.Error("worker exited", "account", account.Name, "error", err)
		}
	}()
	return nil
}

// buildWorker assembles the production worker stack for one account:
// authenticated REST client, private order feed, webhook sink.
func (s *Supervisor) buildWorker(account config.AccountConfig, events chan<- engine.PositionEvent) (runner, error) {
	baseURL := s.cfg.Venue.BaseURL
	if account.Mode == types.ModeDemo {
		baseURL = s.cfg.Venue.DemoBaseURL
	}

	auth := exchange.NewAuth(account.APIKey, account.APISecret, s.cfg.Venue.RecvWindow)
	client := exchange.NewClient(baseURL, auth, s.logger.With("account", account.Name))

	var sink notify.Sink = notify.NopSink{}
	if account.WebhookURL != "" {
		sink = notify.NewWebhook(account.WebhookURL, s.logger.With("account", account.Name))
	}

	opts := engine.Options{Events: events}
	if s.cfg.Venue.WSPrivate != "" {
		feed := exchange.NewOrderFeed(s.cfg.Venue.WSPrivate, auth, s.logger.With("account", account.Name))
		opts.OrderFeed = feed.Orders()
		// The feed shares the worker's lifetime via the account-scoped
		// runner below.
		return &feedRunner{
			worker: engine.NewWorker(account, client, s.store, s.registry, sink,
				s.cfg.Engine.PollInterval, exchange.Classify, s.logger, opts),
			feed: feed,
		}, nil
	}

	return engine.NewWorker(account, client, s.store, s.registry, sink,
		s.cfg.Engine.PollInterval, exchange.Classify, s.logger, opts), nil
}

// feedRunner ties a worker and its private order feed to one context.
type feedRunner struct {
	worker *engine.Worker
	feed   *exchange.OrderFeed
}

func (r *feedRunner) Run(ctx context.Context) error {
	// The feed's reconnect loop only exits on cancellation; it logs its
	// own disconnects.
	go r.feed.Run(ctx)
	defer r.feed.Close()
	return r.worker.Run(ctx)
}

func (s *Supervisor) notifyConfigError(ctx context.Context, account config.AccountConfig, err error) {
	if account.WebhookURL == "" {
		return
	}
	sink := notify.NewWebhook(account.WebhookURL, s.logger)
	sink.Send(ctx, notify.Errorf(account.Name, "account disabled",
		"configuration rejected: %v", err))
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	handles := make([]*workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.workers = make(map[string]*workerHandle)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
	s.logger.Info("all workers stopped")
}

// WorkerNames returns the currently running account names (for status
// and tests).
func (s *Supervisor) WorkerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	return names
}
