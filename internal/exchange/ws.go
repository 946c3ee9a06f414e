// ws.go implements the private WebSocket order feed.
//
// The feed authenticates once per connection, subscribes to the "order"
// topic, and emits order lifecycle updates (New → PartiallyFilled →
// Filled / Cancelled / Rejected) as the venue pushes them. The engine
// uses it as a fast path while waiting for market fills; REST polling
// remains the fallback, so a dropped feed degrades latency, not
// correctness.
//
// The connection auto-reconnects with exponential backoff (1s → 30s max)
// and re-authenticates on every reconnect. A read deadline (60s) detects
// silent server failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hl-mirror/pkg/types"
)

const (
	wsPingInterval     = 20 * time.Second
	wsReadTimeout      = 60 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	orderBufferSize    = 128
)

// OrderFeed maintains the authenticated order-topic WebSocket connection
// for one account.
type OrderFeed struct {
	url    string
	auth   *Auth
	conn   *websocket.Conn
	connMu sync.Mutex

	orderCh chan types.OpenOrderInfo

	logger *slog.Logger
}

// NewOrderFeed creates the private order feed for one account's credentials.
func NewOrderFeed(wsURL string, auth *Auth, logger *slog.Logger) *OrderFeed {
	return &OrderFeed{
		url:     wsURL,
		auth:    auth,
		orderCh: make(chan types.OpenOrderInfo, orderBufferSize),
		logger:  logger.With("component", "ws_order"),
	}
}

// Orders returns the read-only channel of order lifecycle updates.
func (f *OrderFeed) Orders() <-chan types.OpenOrderInfo { return f.orderCh }

// Run connects and maintains the feed with auto-reconnect. Blocks until
// ctx is cancelled.
func (f *OrderFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("order feed disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *OrderFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// wsOp is the outgoing op frame (auth, subscribe, ping).
type wsOp struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

func (f *OrderFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(wsOp{Op: "auth", Args: f.auth.WSAuthArgs()}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := f.writeJSON(wsOp{Op: "subscribe", Args: []any{"order"}}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("order feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *OrderFeed) dispatchMessage(data []byte) {
	var frame struct {
		Op      string          `json:"op"`
		Success *bool           `json:"success"`
		RetMsg  string          `json:"ret_msg"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	// Op acknowledgements (auth, subscribe, pong).
	if frame.Op != "" {
		if frame.Success != nil && !*frame.Success {
			f.logger.Error("ws op rejected", "op", frame.Op, "msg", frame.RetMsg)
		}
		return
	}

	if frame.Topic != "order" {
		f.logger.Debug("unknown ws topic", "topic", frame.Topic)
		return
	}

	var orders []types.OpenOrderInfo
	if err := json.Unmarshal(frame.Data, &orders); err != nil {
		f.logger.Error("unmarshal order update", "error", err)
		return
	}

	for _, ord := range orders {
		select {
		case f.orderCh <- ord:
		default:
			f.logger.Warn("order channel full, dropping update", "order_id", ord.OrderID)
		}
	}
}

func (f *OrderFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(wsOp{Op: "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *OrderFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}
