package engine

import (
	"context"
	"time"

	"hl-mirror/pkg/types"
)

// Venue is the destination-venue surface the engine trades against.
// *exchange.Client is the production implementation; tests substitute a
// scripted fake.
type Venue interface {
	Positions(ctx context.Context) ([]types.PositionInfo, error)
	OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrderInfo, error)
	Executions(ctx context.Context, symbol string, start, end time.Time) ([]types.ExecutionItem, error)
	OrderStatus(ctx context.Context, symbol, orderLinkID string) (string, error)

	PlaceMarket(ctx context.Context, symbol string, side types.Side, qty string) (linkID, orderID string, err error)
	PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price string) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ClosePosition(ctx context.Context, pos types.PositionInfo, qty string) (types.CloseResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// EventLog is the engine's view of the local store: pending events in,
// terminal statuses and the audit trail out.
type EventLog interface {
	PendingFills(ctx context.Context, account string, limit int) ([]types.SourceFill, error)
	UpdateFillStatus(ctx context.Context, account string, id int64, status types.ProcessStatus, detail string) error
	PendingOrders(ctx context.Context, account string, limit int) ([]types.SourceOrder, error)
	UpdateOrderStatus(ctx context.Context, account string, id int64, status types.ProcessStatus, detail string) error
	ProcessedTxHashes(ctx context.Context, account string, limit int) ([]string, error)
	InsertMirrorOrder(ctx context.Context, m types.MirrorOrder) (int64, error)
}

// PositionEventKind labels engine position events.
type PositionEventKind string

const (
	PositionOpened PositionEventKind = "opened"
	PositionClosed PositionEventKind = "closed"
)

// PositionEvent is emitted on the engine's event channel whenever a
// destination position is opened, added to, reduced or closed.
// Subscribers (dashboards, the supervisor's log tap) must drain the
// channel; the engine drops events rather than block.
type PositionEvent struct {
	Kind        PositionEventKind
	Account     string
	Symbol      string
	Side        types.Side
	Qty         float64
	Price       float64
	RealizedPnL float64
	Time        time.Time
}
