package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-mirror/internal/config"
	"hl-mirror/internal/exchange"
	"hl-mirror/internal/notify"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Fakes
// ————————————————————————————————————————————————————————————————————————

type marketCall struct {
	symbol string
	side   types.Side
	qty    string
}

type closeCall struct {
	pos types.PositionInfo
	qty string
}

type limitCall struct {
	symbol string
	side   types.Side
	qty    string
	price  string
}

type fakeVenue struct {
	mu sync.Mutex

	// positionsSeq is consumed one snapshot per Positions call; the last
	// snapshot repeats once the script runs out.
	positionsSeq [][]types.PositionInfo
	posCalls     int

	openOrders  []types.OpenOrderInfo
	executions  []types.ExecutionItem
	orderStatus string // returned by OrderStatus; "" = aged out (filled)

	closeErrs   []error // consumed per ClosePosition call
	closeResult types.CloseResult

	marketCalls []marketCall
	limitCalls  []limitCall
	closeCalls  []closeCall
	cancelled   []string
	leverage    map[string]int
}

func newFakeVenue(positions ...[]types.PositionInfo) *fakeVenue {
	if len(positions) == 0 {
		positions = [][]types.PositionInfo{nil}
	}
	return &fakeVenue{
		positionsSeq: positions,
		leverage:     make(map[string]int),
		closeResult:  types.CloseResult{OrderID: "close-1", ClosedQty: 0.05, RealizedPnL: 12.5, AvgPrice: 50100},
	}
}

func (v *fakeVenue) Positions(context.Context) ([]types.PositionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.posCalls
	if i >= len(v.positionsSeq) {
		i = len(v.positionsSeq) - 1
	}
	v.posCalls++
	return v.positionsSeq[i], nil
}

func (v *fakeVenue) OpenOrders(context.Context, string) ([]types.OpenOrderInfo, error) {
	return v.openOrders, nil
}

func (v *fakeVenue) Executions(context.Context, string, time.Time, time.Time) ([]types.ExecutionItem, error) {
	return v.executions, nil
}

func (v *fakeVenue) OrderStatus(context.Context, string, string) (string, error) {
	return v.orderStatus, nil
}

func (v *fakeVenue) PlaceMarket(_ context.Context, symbol string, side types.Side, qty string) (string, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marketCalls = append(v.marketCalls, marketCall{symbol, side, qty})
	return "link-1", "venue-1", nil
}

func (v *fakeVenue) PlaceLimit(_ context.Context, symbol string, side types.Side, qty, price string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limitCalls = append(v.limitCalls, limitCall{symbol, side, qty, price})
	return "limit-1", nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) ClosePosition(_ context.Context, pos types.PositionInfo, qty string) (types.CloseResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeCalls = append(v.closeCalls, closeCall{pos, qty})
	if len(v.closeErrs) > 0 {
		err := v.closeErrs[0]
		v.closeErrs = v.closeErrs[1:]
		if err != nil {
			return types.CloseResult{}, err
		}
	}
	return v.closeResult, nil
}

func (v *fakeVenue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}

type fakeLog struct {
	mu            sync.Mutex
	fills         []types.SourceFill
	fillStatuses  map[int64]types.ProcessStatus
	fillDetails   map[int64]string
	orders        []types.SourceOrder
	orderStatuses map[int64]types.ProcessStatus
	audits        []types.MirrorOrder
	seedHashes    []string
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		fillStatuses:  make(map[int64]types.ProcessStatus),
		orderStatuses: make(map[int64]types.ProcessStatus),
		fillDetails:   make(map[int64]string),
	}
}

func (l *fakeLog) PendingFills(_ context.Context, _ string, limit int) ([]types.SourceFill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.SourceFill
	for _, f := range l.fills {
		if _, done := l.fillStatuses[f.ID]; !done {
			out = append(out, f)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLog) UpdateFillStatus(_ context.Context, _ string, id int64, status types.ProcessStatus, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fillStatuses[id] = status
	l.fillDetails[id] = detail
	return nil
}

func (l *fakeLog) PendingOrders(_ context.Context, _ string, limit int) ([]types.SourceOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.SourceOrder
	for _, o := range l.orders {
		if _, done := l.orderStatuses[o.ID]; !done {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLog) UpdateOrderStatus(_ context.Context, _ string, id int64, status types.ProcessStatus, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orderStatuses[id] = status
	return nil
}

func (l *fakeLog) ProcessedTxHashes(context.Context, string, int) ([]string, error) {
	return l.seedHashes, nil
}

func (l *fakeLog) InsertMirrorOrder(_ context.Context, m types.MirrorOrder) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audits = append(l.audits, m)
	return int64(len(l.audits)), nil
}

type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *captureSink) Send(_ context.Context, ev notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) byKind(k notify.Kind) []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Event
	for _, ev := range s.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (s *captureSink) hasTitle(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Title == title {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Harness
// ————————————————————————————————————————————————————————————————————————

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry() *symbols.Registry {
	r := symbols.NewRegistry()
	r.Update([]types.Instrument{
		{Symbol: "BTCUSDT", BaseCoin: "BTC", MinOrderQty: "0.001", QtyStep: "0.001", TickSize: "0.1", MaxLeverage: "100"},
		{Symbol: "ETHUSDT", BaseCoin: "ETH", MinOrderQty: "0.01", QtyStep: "0.01", TickSize: "0.01", MaxLeverage: "50"},
		{Symbol: "SOLUSDT", BaseCoin: "SOL", MinOrderQty: "0.1", QtyStep: "0.1", TickSize: "0.001", MaxLeverage: "50"},
	})
	return r
}

func testAccount() config.AccountConfig {
	return config.AccountConfig{
		Name:    "acct1",
		Enabled: true,
		Mode:    types.ModeDemo,
		Sizing: config.SizingConfig{
			Mode:             config.SizingRatio,
			BaseMarginAmount: 0.1,
			MinCopyValue:     10,
		},
		Leverage: config.LeverageConfig{Default: 20},
	}
}

func newTestWorker(venue Venue, flog EventLog, sink notify.Sink) *Worker {
	w := NewWorker(testAccount(), venue, flog, testRegistry(), sink,
		time.Millisecond, exchange.Classify, testLogger(), Options{})
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func openLongFill(id int64, coin string, size, price float64) types.SourceFill {
	return types.SourceFill{
		ID:        id,
		TxHash:    "0xfill" + string(rune('a'+id)),
		Timestamp: time.Now(),
		Coin:      coin,
		Side:      "BUY",
		Size:      size,
		Price:     price,
		Direction: "Open Long",
	}
}

// ————————————————————————————————————————————————————————————————————————
// Scenarios
// ————————————————————————————————————————————————————————————————————————

func TestCleanOpenInRatioMode(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	// 1.0 BTC at 50000 with ratio 0.1: target notional 5000, qty 0.100.
	w.processFill(context.Background(), openLongFill(1, "BTC", 1.0, 50000))

	if len(venue.marketCalls) != 1 {
		t.Fatalf("market calls = %d, want 1", len(venue.marketCalls))
	}
	call := venue.marketCalls[0]
	if call.symbol != "BTCUSDT" || call.side != types.Buy {
		t.Errorf("call = %+v", call)
	}
	if qty := decimal.RequireFromString(call.qty); !qty.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("qty = %s, want 0.100", call.qty)
	}
	if venue.leverage["BTCUSDT"] != 20 {
		t.Errorf("leverage = %d, want 20", venue.leverage["BTCUSDT"])
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s, want processed", flog.fillStatuses[1])
	}
	if len(flog.audits) != 1 || flog.audits[0].TradeType != "open" {
		t.Errorf("audits = %+v", flog.audits)
	}
	if got := sink.byKind(notify.KindSuccess); len(got) != 1 {
		t.Errorf("success notifications = %d, want 1", len(got))
	}
}

func TestOpenResolvesToAddWithExistingPosition(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue([]types.PositionInfo{
		{Symbol: "BTCUSDT", Side: types.Buy, Size: "0.2", AvgPrice: "48000"},
	})
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	w.processFill(context.Background(), openLongFill(1, "BTC", 1.0, 50000))

	if len(flog.audits) != 1 || flog.audits[0].TradeType != "add" {
		t.Fatalf("audit trade type = %+v, want add", flog.audits)
	}
	if !sink.hasTitle("position increased") {
		t.Error("missing add notification")
	}
}

func TestFullCloseOverride(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue([]types.PositionInfo{
		{Symbol: "BTCUSDT", Side: types.Buy, Size: "0.050", AvgPrice: "49000"},
	})
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	w.processFill(context.Background(), types.SourceFill{
		ID: 1, TxHash: "0x2", Timestamp: time.Now(),
		Coin: "BTC", Side: "SELL", Size: 3.0, Price: 50000,
		Direction: "Close Long", StartPosition: 3.0, ClosedPnL: 10000,
	})

	if len(venue.closeCalls) != 1 {
		t.Fatalf("close calls = %d, want 1", len(venue.closeCalls))
	}
	if venue.closeCalls[0].qty != "" {
		t.Errorf("close qty = %q, want full close", venue.closeCalls[0].qty)
	}
	if len(venue.marketCalls) != 0 {
		t.Errorf("unexpected market orders: %+v", venue.marketCalls)
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s", flog.fillStatuses[1])
	}
	if memo, ok := w.memos.Read("BTCUSDT", types.Buy); !ok || memo.Kind != MemoFollow {
		t.Errorf("follow memo = %+v, ok = %v", memo, ok)
	}
	if !w.closedSymbols.Has("BTC") {
		t.Error("BTC not in closed symbol set after full close")
	}
}

func TestReverseFlipClosesThenReopens(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue([]types.PositionInfo{
		{Symbol: "ETHUSDT", Side: types.Sell, Size: "1.0", AvgPrice: "3100"},
	})
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	// Partial flip: 0.4 of a 1.0 short, so rule 6 does not trigger.
	w.processFill(context.Background(), types.SourceFill{
		ID: 1, TxHash: "0x3", Timestamp: time.Now(),
		Coin: "ETH", Side: "BUY", Size: 0.4, Price: 3000,
		Direction: "Short > Long", StartPosition: -1.0, ClosedPnL: 40,
	})

	if len(venue.closeCalls) != 1 || venue.closeCalls[0].qty != "" {
		t.Fatalf("close calls = %+v, want one full close", venue.closeCalls)
	}
	if venue.closeCalls[0].pos.Side != types.Sell {
		t.Errorf("closed side = %s, want Sell", venue.closeCalls[0].pos.Side)
	}
	if len(venue.marketCalls) != 1 {
		t.Fatalf("market calls = %d, want 1 (re-open)", len(venue.marketCalls))
	}
	reopen := venue.marketCalls[0]
	if reopen.symbol != "ETHUSDT" || reopen.side != types.Buy {
		t.Errorf("re-open = %+v", reopen)
	}
	// 0.4 × 3000 × 0.1 = 120 → 120/3000 = 0.04
	if qty := decimal.RequireFromString(reopen.qty); !qty.Equal(decimal.RequireFromString("0.04")) {
		t.Errorf("re-open qty = %s, want 0.04", reopen.qty)
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s", flog.fillStatuses[1])
	}
	if w.closedSymbols.Has("ETH") {
		t.Error("ETH still in closed symbol set after completed flip")
	}
}

func TestReduceBelowMinLotPromotedToFullClose(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue([]types.PositionInfo{
		{Symbol: "SOLUSDT", Side: types.Buy, Size: "0.5", AvgPrice: "140"},
	})
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	// Reduce by 0.05 with min lot 0.1: unexpressible, promote.
	w.processFill(context.Background(), types.SourceFill{
		ID: 1, TxHash: "0x4", Timestamp: time.Now(),
		Coin: "SOL", Side: "SELL", Size: 0.05, Price: 150,
		Direction: "Close Long", StartPosition: 3.0, ClosedPnL: 5,
	})

	if len(venue.closeCalls) != 1 || venue.closeCalls[0].qty != "" {
		t.Fatalf("close calls = %+v, want promoted full close", venue.closeCalls)
	}
	memo, ok := w.memos.Read("SOLUSDT", types.Buy)
	if !ok || memo.Kind != MemoForced {
		t.Fatalf("forced memo = %+v, ok = %v", memo, ok)
	}
	if !sink.hasTitle("reduce executed as full close due to minimum-lot constraint") {
		t.Error("missing promotion notification")
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s", flog.fillStatuses[1])
	}
}

func TestDuplicateTxHashSkipped(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	first := openLongFill(1, "BTC", 1.0, 50000)
	second := openLongFill(2, "BTC", 1.0, 50000)
	second.TxHash = first.TxHash
	flog.fills = []types.SourceFill{first, second}

	w.cycle(context.Background())

	if len(venue.marketCalls) != 1 {
		t.Fatalf("market calls = %d, want 1", len(venue.marketCalls))
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("first status = %s", flog.fillStatuses[1])
	}
	if flog.fillStatuses[2] != types.StatusDuplicate {
		t.Errorf("second status = %s, want duplicate", flog.fillStatuses[2])
	}
	// Exactly one success notification; the duplicate is silent.
	if got := sink.byKind(notify.KindSuccess); len(got) != 1 {
		t.Errorf("success notifications = %d, want 1", len(got))
	}
}

func TestAtMostOnceDispatchAcrossCycles(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})

	flog.fills = []types.SourceFill{openLongFill(1, "BTC", 1.0, 50000)}

	for i := 0; i < 5; i++ {
		w.cycle(context.Background())
	}

	if len(venue.marketCalls) != 1 {
		t.Errorf("market calls = %d, want exactly 1 across restarts", len(venue.marketCalls))
	}
}

func TestPositionZeroRecovery(t *testing.T) {
	t.Parallel()

	// First snapshot holds the position; every later query is flat.
	venue := newFakeVenue(
		[]types.PositionInfo{{Symbol: "BTCUSDT", Side: types.Buy, Size: "0.05", AvgPrice: "49000"}},
		nil,
	)
	venue.closeErrs = []error{
		&exchange.VenueError{Code: exchange.CodePositionZero, Msg: "position is zero", Op: "close position"},
	}
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	w.processFill(context.Background(), types.SourceFill{
		ID: 1, TxHash: "0x5", Timestamp: time.Now(),
		Coin: "BTC", Side: "SELL", Size: 1.0, Price: 50000,
		Direction: "Close Long", StartPosition: 1.0, ClosedPnL: 100,
	})

	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s, want processed (recovered)", flog.fillStatuses[1])
	}
	if got := sink.byKind(notify.KindError); len(got) != 0 {
		t.Errorf("failure notifications emitted during recovery: %+v", got)
	}
}

func TestSizeSkipMarksFiltered(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	// 0.0001 × 50000 × 0.1 = 0.5 < min copy value 10 → skip.
	w.processFill(context.Background(), openLongFill(1, "BTC", 0.0001, 50000))

	if len(venue.marketCalls) != 0 {
		t.Fatalf("market calls = %d, want 0", len(venue.marketCalls))
	}
	if flog.fillStatuses[1] != types.StatusFiltered {
		t.Errorf("status = %s, want filtered", flog.fillStatuses[1])
	}
	if got := sink.byKind(notify.KindError); len(got) != 1 {
		t.Errorf("size-skip notifications = %d, want 1", len(got))
	}
}

func TestVWAPRecoveredFromExecutions(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	venue.executions = []types.ExecutionItem{
		{Symbol: "BTCUSDT", OrderLinkID: "link-1", ExecQty: "0.06", ExecPrice: "50000"},
		{Symbol: "BTCUSDT", OrderLinkID: "link-1", ExecQty: "0.04", ExecPrice: "50500"},
		{Symbol: "BTCUSDT", OrderLinkID: "other", ExecQty: "9.99", ExecPrice: "1"},
	}
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})

	w.processFill(context.Background(), openLongFill(1, "BTC", 1.0, 50000))

	if len(flog.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(flog.audits))
	}
	got := flog.audits[0]
	if got.Size != 0.1 {
		t.Errorf("recovered size = %v, want 0.1", got.Size)
	}
	// VWAP = (0.06×50000 + 0.04×50500) / 0.1 = 50200
	if got.Price != 50200 {
		t.Errorf("recovered vwap = %v, want 50200", got.Price)
	}
}

func TestTwapSliceProgress(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	sink := &captureSink{}
	w := newTestWorker(venue, flog, sink)

	fill := openLongFill(1, "BTC", 0.5, 50000)
	fill.OID = 42
	w.processFill(context.Background(), fill)

	if len(venue.marketCalls) != 1 {
		t.Fatalf("market calls = %d, want 1", len(venue.marketCalls))
	}
	if flog.fillStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s", flog.fillStatuses[1])
	}
	if !w.twap.IsParent(42) {
		t.Error("parent 42 not tracked")
	}

	found := false
	for _, ev := range sink.byKind(notify.KindSuccess) {
		if ev.Fields["twap_progress"] == "1/1 (0.0500)" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing twap progress notification, events: %+v", sink.events)
	}
}

func TestPlaceAndCancelRoundTrip(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})
	ctx := context.Background()

	w.processOrder(ctx, types.SourceOrder{
		ID: 1, Timestamp: time.Now(), Coin: "BTC",
		Action: types.ActionPlaced, Side: "SELL", Size: 1.0, Price: 61000.07, OrderID: 42,
	})

	if len(venue.limitCalls) != 1 {
		t.Fatalf("limit calls = %d, want 1", len(venue.limitCalls))
	}
	placed := venue.limitCalls[0]
	if placed.symbol != "BTCUSDT" || placed.side != types.Sell {
		t.Errorf("limit call = %+v", placed)
	}
	// 61000.07 aligned down to tick 0.1.
	if got := decimal.RequireFromString(placed.price); !got.Equal(decimal.RequireFromString("61000.0")) {
		t.Errorf("aligned price = %q, want 61000.0", placed.price)
	}
	if id, ok := w.orderMap.Get(42); !ok || id != "limit-1" {
		t.Fatalf("order map entry = %q, %v", id, ok)
	}

	w.processOrder(ctx, types.SourceOrder{
		ID: 2, Timestamp: time.Now(), Coin: "BTC",
		Action: types.ActionCanceled, Side: "SELL", Price: 61000.07, OrderID: 42,
	})

	if len(venue.cancelled) != 1 || venue.cancelled[0] != "limit-1" {
		t.Fatalf("cancelled = %v, want [limit-1]", venue.cancelled)
	}
	if w.orderMap.Len() != 0 {
		t.Error("order map not emptied after cancel")
	}
	if flog.orderStatuses[1] != types.StatusProcessed || flog.orderStatuses[2] != types.StatusProcessed {
		t.Errorf("order statuses = %v", flog.orderStatuses)
	}
}

func TestCancelFallsBackToPriceMatch(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	venue.openOrders = []types.OpenOrderInfo{
		{OrderID: "stray-9", Symbol: "BTCUSDT", Side: types.Sell, Price: "61000.005", Qty: "0.01", OrderStatus: types.OrderStatusNew},
	}
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})

	w.processOrder(context.Background(), types.SourceOrder{
		ID: 1, Timestamp: time.Now(), Coin: "BTC",
		Action: types.ActionCanceled, Side: "SELL", Price: 61000.0, OrderID: 42,
	})

	if len(venue.cancelled) != 1 || venue.cancelled[0] != "stray-9" {
		t.Errorf("cancelled = %v, want [stray-9]", venue.cancelled)
	}
}

func TestCancelWithoutTargetIsNoOpSuccess(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})

	w.processOrder(context.Background(), types.SourceOrder{
		ID: 1, Timestamp: time.Now(), Coin: "BTC",
		Action: types.ActionCanceled, Side: "SELL", Price: 42.0, OrderID: 7,
	})

	if len(venue.cancelled) != 0 {
		t.Errorf("cancelled = %v, want none", venue.cancelled)
	}
	if flog.orderStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s, want processed (no-op)", flog.orderStatuses[1])
	}
}

func TestDuplicateOpenOrderSkipsPlacement(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	venue.openOrders = []types.OpenOrderInfo{
		{OrderID: "existing", Symbol: "BTCUSDT", Side: types.Sell, Price: "61000", Qty: "0.01"},
	}
	flog := newFakeLog()
	w := newTestWorker(venue, flog, &captureSink{})

	w.processOrder(context.Background(), types.SourceOrder{
		ID: 1, Timestamp: time.Now(), Coin: "BTC",
		Action: types.ActionPlaced, Side: "SELL", Size: 1.0, Price: 61000, OrderID: 42,
	})

	if len(venue.limitCalls) != 0 {
		t.Errorf("limit calls = %v, want none", venue.limitCalls)
	}
	if flog.orderStatuses[1] != types.StatusProcessed {
		t.Errorf("status = %s", flog.orderStatuses[1])
	}
}

func TestPositionEventsEmitted(t *testing.T) {
	t.Parallel()
	venue := newFakeVenue()
	flog := newFakeLog()
	events := make(chan PositionEvent, 8)

	w := NewWorker(testAccount(), venue, flog, testRegistry(), &captureSink{},
		time.Millisecond, exchange.Classify, testLogger(), Options{Events: events})
	w.sleep = func(context.Context, time.Duration) error { return nil }

	w.processFill(context.Background(), openLongFill(1, "BTC", 1.0, 50000))

	select {
	case ev := <-events:
		if ev.Kind != PositionOpened || ev.Symbol != "BTCUSDT" || ev.Account != "acct1" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no position event emitted")
	}
}
