// Package engine is the per-account mirror worker: it pulls pending
// source events from the local log, classifies each fill, and executes
// the mirrored action on the destination venue.
//
// One worker per account; within a worker, events are dispatched
// strictly serialized in (timestamp, id) order so the source trader's
// causality is preserved on the destination. All per-account state
// (dedup sets, the order-id map, TWAP progress) lives inside the worker
// and dies with it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hl-mirror/internal/config"
	"hl-mirror/internal/notify"
	"hl-mirror/internal/retry"
	"hl-mirror/internal/sizing"
	"hl-mirror/internal/symbols"
	"hl-mirror/internal/twap"
	"hl-mirror/pkg/types"
)

const (
	// fillWaitCeiling bounds the post-market-order status poll.
	fillWaitCeiling = 30 * time.Second
	// fillPollInterval is the REST status poll cadence inside the wait.
	fillPollInterval = time.Second
	// executionsWindow is how far back the fill-recovery query reaches.
	executionsWindow = 30 * time.Second
	// positionZeroWait is the pause before requerying after a
	// "position is zero" reject.
	positionZeroWait = 5 * time.Second

	// eventBatchSize caps how many pending events one cycle drains.
	eventBatchSize = 50
	// txSeedLimit caps how many processed hashes seed the dedup set.
	txSeedLimit = 2000
)

// Worker mirrors one account. Construct with NewWorker, drive with Run.
type Worker struct {
	account  config.AccountConfig
	venue    Venue
	log      EventLog
	registry *symbols.Registry
	allow    *symbols.Allowlist
	sizer    *sizing.Calculator
	twap     *twap.Aggregator
	sink     notify.Sink
	memos    *LiquidationMemos
	logger   *slog.Logger

	// Optional collaborators.
	events    chan<- PositionEvent       // nil = no subscribers
	orderFeed <-chan types.OpenOrderInfo // nil = REST polling only

	txSeen         stringSet // ProcessedTxHashSet
	notifiedOrders stringSet // NotifiedOrderSet
	closedSymbols  stringSet // ClosedSymbolSet
	orderMap       *OrderIdMap

	apiRetry      retry.Policy
	criticalRetry retry.Policy

	pollInterval time.Duration

	// sleep is time-based waiting, injectable so tests don't sit
	// through the 5 s and 30 s ceilings.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Options are the optional collaborators of a worker.
type Options struct {
	Events    chan<- PositionEvent
	OrderFeed <-chan types.OpenOrderInfo
	Memos     *LiquidationMemos // shared with external analytics; nil = private
}

// NewWorker wires a mirror worker for one account.
func NewWorker(
	account config.AccountConfig,
	venue Venue,
	log EventLog,
	registry *symbols.Registry,
	sink notify.Sink,
	pollInterval time.Duration,
	classify retry.Classifier,
	logger *slog.Logger,
	opts Options,
) *Worker {
	memos := opts.Memos
	if memos == nil {
		memos = NewLiquidationMemos()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Worker{
		account:  account,
		venue:    venue,
		log:      log,
		registry: registry,
		allow:    symbols.NewAllowlist(account.Allowlist.Enabled, account.Allowlist.Coins),
		sizer:    sizing.New(account.Sizing),
		twap:     twap.New(),
		sink:     sink,
		memos:    memos,
		logger:   logger.With("component", "engine", "account", account.Name),

		events:    opts.Events,
		orderFeed: opts.OrderFeed,

		txSeen:         newStringSet(),
		notifiedOrders: newStringSet(),
		closedSymbols:  newStringSet(),
		orderMap:       NewOrderIdMap(),

		apiRetry:      retry.API(classify),
		criticalRetry: retry.Critical(classify),

		pollInterval: pollInterval,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// Memos exposes the account's liquidation memo table for external
// analytics readers.
func (w *Worker) Memos() *LiquidationMemos { return w.memos }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the worker until ctx is cancelled. The stop signal is
// checked between events; an in-flight dispatch completes before exit.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.seedTxSet(ctx); err != nil {
		w.logger.Warn("tx dedup seed failed, starting empty", "error", err)
	}

	w.logger.Info("worker started",
		"mode", w.account.Mode,
		"source", w.account.SourceAddress,
		"sizing_mode", w.account.Sizing.Mode,
	)

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped")
			return err
		}

		w.cycle(ctx)
		w.twap.GC()

		if err := w.sleep(ctx, w.pollInterval); err != nil {
			w.logger.Info("worker stopped")
			return err
		}
	}
}

func (w *Worker) seedTxSet(ctx context.Context) error {
	hashes, err := w.log.ProcessedTxHashes(ctx, w.account.Name, txSeedLimit)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		w.txSeen.Add(h)
	}
	w.logger.Debug("tx dedup set seeded", "count", len(hashes))
	return nil
}

// cycle drains one batch of pending fills, then pending order events.
// Each event runs to completion (including its internal retries) before
// the next is taken.
func (w *Worker) cycle(ctx context.Context) {
	fills, err := w.log.PendingFills(ctx, w.account.Name, eventBatchSize)
	if err != nil {
		w.logger.Error("pending fills query failed", "error", err)
		return
	}
	for _, f := range fills {
		if ctx.Err() != nil {
			return
		}
		w.processFill(ctx, f)
	}

	orders, err := w.log.PendingOrders(ctx, w.account.Name, eventBatchSize)
	if err != nil {
		w.logger.Error("pending orders query failed", "error", err)
		return
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		w.processOrder(ctx, o)
	}
}

// errSizeSkip marks a dispatch dropped by the sizing policy; the event
// is filtered, not failed.
var errSizeSkip = fmt.Errorf("sizing policy returned zero")

// processFill classifies and dispatches one fill, then writes its
// terminal status. Never panics outward; an unexpected handler error
// marks the event failed and the worker moves on.
func (w *Worker) processFill(ctx context.Context, f types.SourceFill) {
	fc := w.fillContext(ctx, f)
	outcome := Classify(f, fc)

	logger := w.logger.With("fill_id", f.ID, "coin", f.Coin, "outcome", outcome.String())
	logger.Info("fill classified",
		"side", f.Side,
		"size", f.Size,
		"price", f.Price,
		"direction", f.Direction,
	)

	status, detail := w.dispatch(ctx, f, fc, outcome, logger)

	if err := w.log.UpdateFillStatus(ctx, w.account.Name, f.ID, status, detail); err != nil {
		logger.Error("status update failed", "status", status, "error", err)
	}

	// Terminal processing makes the tx hash a duplicate from now on.
	if f.HasTxHash() && (status == types.StatusProcessed || status == types.StatusFailed) {
		w.txSeen.Add(f.TxHash)
	}
}

// dispatch runs the handler for one classified fill and maps its result
// to a terminal status.
func (w *Worker) dispatch(ctx context.Context, f types.SourceFill, fc FillContext, outcome Outcome, logger *slog.Logger) (types.ProcessStatus, string) {
	switch outcome {
	case SkipDuplicate:
		return types.StatusDuplicate, ""
	case SkipUnsupported:
		return types.StatusUnsupported, ""
	case SkipStale:
		return types.StatusFiltered, "stale"
	case SkipFiltered:
		return types.StatusFiltered, ""
	case Skip:
		logger.Warn("fill matched no rule, skipping")
		return types.StatusFiltered, "unclassified"
	case TwapSlice:
		return w.dispatchTwapSlice(ctx, f, fc, logger)
	}

	var err error
	switch outcome {
	case Open:
		err = w.handleOpen(ctx, f, false)
	case Add:
		err = w.handleOpen(ctx, f, true)
	case CloseFull:
		err = w.handleClose(ctx, f, true)
	case ClosePartial:
		err = w.handleClose(ctx, f, false)
	case ReverseFlip:
		err = w.handleReverse(ctx, f)
	}

	switch {
	case err == nil:
		return types.StatusProcessed, ""
	case err == errSizeSkip:
		return types.StatusFiltered, errSizeSkip.Error()
	default:
		logger.Error("dispatch failed", "error", err)
		return types.StatusFailed, err.Error()
	}
}

// dispatchTwapSlice records the slice, re-resolves the fill to its
// underlying action, and on success records the followed size and
// notifies with aggregate progress.
func (w *Worker) dispatchTwapSlice(ctx context.Context, f types.SourceFill, fc FillContext, logger *slog.Logger) (types.ProcessStatus, string) {
	parent := w.twap.AddSlice(f.OID, f.Coin, f.Side, f.Size)

	inner := fc
	inner.TwapParent = false
	resolved := Classify(f, inner)
	logger.Info("twap slice resolved", "oid", f.OID, "action", resolved.String(), "slices", parent.SliceCount)

	status, detail := w.dispatch(ctx, f, inner, resolved, logger)
	if status == types.StatusProcessed {
		inst, _ := w.registry.Lookup(f.Coin)
		followed, _ := w.sizer.Quantity(f.Size, f.Price, inst).Float64()
		updated := w.twap.MarkFollowed(f.OID, followed)
		if updated != nil {
			ev := notify.Successf(w.account.Name, "twap slice followed",
				"%s %s slice followed, progress %s",
				symbols.FullSymbol(f.Coin), f.Side, updated.Progress())
			ev.Fields = map[string]string{"twap_progress": updated.Progress()}
			w.sink.Send(ctx, ev)
		}
	}
	return status, detail
}

// fillContext gathers the per-account state the classifier needs. The
// destination position query is issued only for fills that can reach
// the open/add rule; cheap filters never touch the venue.
func (w *Worker) fillContext(ctx context.Context, f types.SourceFill) FillContext {
	fc := FillContext{
		SeenTxHash: f.HasTxHash() && w.txSeen.Has(f.TxHash),
		Allowed:    w.allow.Allowed(f.Coin),
		Listed:     w.registry.Listed(f.Coin),
		// Every oid-tagged fill is a slice; the source never announces
		// the parent separately.
		TwapParent: f.OID != 0,
		Stale:      w.isStale(f),
	}

	if fc.SeenTxHash || !fc.Allowed || !fc.Listed || fc.Stale {
		return fc
	}

	fc.HasSameSide = w.hasSameSidePosition(ctx, f)
	return fc
}

func (w *Worker) isStale(f types.SourceFill) bool {
	maxAge := w.account.AgeFilter.MaxAge()
	if maxAge <= 0 {
		return false
	}
	return w.now().Sub(f.Timestamp) > maxAge
}

func (w *Worker) hasSameSidePosition(ctx context.Context, f types.SourceFill) bool {
	positions, err := w.venue.Positions(ctx)
	if err != nil {
		w.logger.Warn("position query for open/add resolution failed", "error", err)
		return false
	}
	symbol := symbols.FullSymbol(f.Coin)
	side := types.NormalizeSide(f.Side, f.Direction)
	for _, p := range positions {
		if p.Symbol == symbol && p.Side == side {
			return true
		}
	}
	return false
}

// emit publishes a position event without ever blocking the worker.
func (w *Worker) emit(ev PositionEvent) {
	if w.events == nil {
		return
	}
	ev.Account = w.account.Name
	ev.Time = w.now()
	select {
	case w.events <- ev:
	default:
		w.logger.Debug("event channel full, dropping", "kind", ev.Kind, "symbol", ev.Symbol)
	}
}
