// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the mirror bot — source-venue
// events as they arrive from the monitor, destination-venue wire types, and
// the enums tying them together. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the destination-venue order direction.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// NormalizeSide converts the source venue's upper-case side ("BUY"/"SELL")
// to the destination format. When direction carries Long/Short it wins,
// because the source's side field is the taker side, not the position side.
func NormalizeSide(side, direction string) Side {
	d := strings.ToLower(direction)
	if strings.Contains(d, "long") {
		return Buy
	}
	if strings.Contains(d, "short") {
		return Sell
	}
	if strings.EqualFold(side, "SELL") {
		return Sell
	}
	return Buy
}

// ProcessStatus is the durable per-event marker in the local event log.
// Every state except StatusPending is terminal: once set, the event is
// never re-dispatched.
type ProcessStatus string

const (
	StatusPending     ProcessStatus = "pending"
	StatusProcessed   ProcessStatus = "processed"
	StatusFiltered    ProcessStatus = "filtered"
	StatusUnsupported ProcessStatus = "unsupported"
	StatusDuplicate   ProcessStatus = "duplicate"
	StatusFailed      ProcessStatus = "failed"
)

// Terminal reports whether a status will never change again.
func (s ProcessStatus) Terminal() bool {
	return s != "" && s != StatusPending
}

// OrderAction is a source-venue order lifecycle event kind.
type OrderAction string

const (
	ActionPlaced   OrderAction = "placed"
	ActionCanceled OrderAction = "canceled"
)

// VenueMode selects the destination venue environment.
type VenueMode string

const (
	ModeLive VenueMode = "live"
	ModeDemo VenueMode = "demo"
)

// SentinelTxHash marks synthetic source fills that carry no real
// transaction; such fills are exempt from tx-hash deduplication.
const SentinelTxHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ————————————————————————————————————————————————————————————————————————
// Source-venue events
// ————————————————————————————————————————————————————————————————————————

// SourceFill is one execution reported by the source venue's monitor and
// appended to the local event log. Direction is the monitor's free-form
// label; values of interest are "Open Long", "Open Short", "Close Long",
// "Close Short", "Long > Short" and "Short > Long".
type SourceFill struct {
	ID            int64     // local log id; 0 = not yet assigned (dedupe by TxHash)
	TxHash        string    // source transaction hash, SentinelTxHash = synthetic
	Timestamp     time.Time // source-venue fill time
	Coin          string    // short coin name, e.g. "BTC"
	Side          string    // source format: "BUY" or "SELL"
	Size          float64   // fill size, always positive
	Price         float64   // fill price
	Direction     string    // monitor label, see above
	StartPosition float64   // trader's signed position size before this fill
	ClosedPnL     float64   // realized pnl; nonzero implies reducing or closing
	OID           int64     // TWAP parent order id, 0 = none
}

// HasTxHash reports whether the fill carries a real (non-sentinel) hash.
func (f SourceFill) HasTxHash() bool {
	return f.TxHash != "" && f.TxHash != SentinelTxHash
}

// SourceOrder is one limit-order lifecycle event from the source venue.
type SourceOrder struct {
	ID        int64
	Timestamp time.Time
	Coin      string
	Action    OrderAction
	Side      string // source format: "BUY" or "SELL"
	Size      float64
	Price     float64
	OrderID   int64 // source-side order id, key for cancel translation
}

// ————————————————————————————————————————————————————————————————————————
// Destination-venue wire types
// ————————————————————————————————————————————————————————————————————————
// Quantities and prices are strings on the wire (the venue requires
// step/tick-aligned decimal strings and returns them the same way).

// Instrument describes one linear perpetual contract on the destination
// venue: its lot constraints and price granularity.
type Instrument struct {
	Symbol      string // contract symbol, e.g. "BTCUSDT"
	BaseCoin    string // short coin name, e.g. "BTC"
	MinOrderQty string // minimum lot, e.g. "0.001"
	QtyStep     string // quantity step, e.g. "0.001"
	TickSize    string // price tick, e.g. "0.10"
	MaxLeverage string // venue-side leverage ceiling, e.g. "100"
}

// PositionInfo is a live position snapshot from the destination venue.
// Authoritative; the engine never caches it beyond one operation.
type PositionInfo struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Size     string `json:"size"`     // contracts held, "0" = flat
	AvgPrice string `json:"avgPrice"` // average entry price
	Leverage string `json:"leverage"`
}

// OpenOrderInfo is a resting limit order on the destination venue.
type OpenOrderInfo struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
}

// ExecutionItem is one execution from the destination venue's trade
// history, used to recover real filled quantity and price after a
// market order.
type ExecutionItem struct {
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	ExecQty     string `json:"execQty"`
	ExecPrice   string `json:"execPrice"`
	ExecTime    string `json:"execTime"` // unix millis as string
}

// Destination order statuses observed while waiting for a market fill.
const (
	OrderStatusNew             = "New"
	OrderStatusPartiallyFilled = "PartiallyFilled"
	OrderStatusFilled          = "Filled"
	OrderStatusCancelled       = "Cancelled"
	OrderStatusRejected        = "Rejected"
)

// CloseResult is the outcome of a close-position operation.
type CloseResult struct {
	OrderID     string  // venue order id of the reduce-only close order
	ClosedQty   float64 // contracts actually closed
	RealizedPnL float64 // venue-reported realized pnl for the close
	AvgPrice    float64 // volume-weighted close price, 0 if unknown
}

// MirrorOrder is one executed destination order recorded for audit.
// TradeType distinguishes open/add/reduce/close from the engine's view.
type MirrorOrder struct {
	ID           int64
	Timestamp    time.Time
	Account      string
	Symbol       string
	Side         Side
	OrderType    string // "Market" or "Limit"
	TradeType    string // "open", "add", "reduce", "close"
	Size         float64
	Price        float64
	VenueOrderID string
	Status       string
	Source       string // "system" for engine-initiated orders
}
