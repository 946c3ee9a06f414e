// Package exchange implements the destination-venue REST and WebSocket
// clients.
//
// The REST client (Client) performs the typed operations the mirror engine
// needs against the venue's v5-style unified API:
//
//   - Instruments:   GET  /v5/market/instruments-info — contract catalog
//   - Positions:     GET  /v5/position/list           — live positions
//   - OpenOrders:    GET  /v5/order/realtime          — resting orders
//   - Executions:    GET  /v5/execution/list          — fill history window
//   - OrderStatus:   GET  /v5/order/realtime          — by order link id
//   - PlaceMarket:   POST /v5/order/create            — market order
//   - PlaceLimit:    POST /v5/order/create            — limit order
//   - CancelOrder:   POST /v5/order/cancel
//   - ClosePosition: POST /v5/order/create (reduce-only) + closed-pnl query
//   - SetLeverage:   POST /v5/position/set-leverage   — idempotent
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// transport errors by resty, and authenticated with HMAC headers (except
// the public instruments read). Venue-level errors surface as *VenueError
// so the retry policy can classify them.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"hl-mirror/pkg/types"
)

const category = "linear"

// Client is the destination-venue REST API client for one account.
// It is used by a single account's worker; no cross-worker locking needed.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and transport retry.
func NewClient(baseURL string, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

// envelope is the venue's uniform response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// getJSON performs a signed (or public) GET and decodes result into out.
func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, signed bool, out any) error {
	query := q.Encode()
	req := c.http.R().SetContext(ctx).SetQueryString(query)
	if signed {
		req.SetHeaders(c.auth.Headers(query))
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.decode(op, resp, out)
}

// postJSON performs a signed POST with a JSON body and decodes result into out.
func (c *Client) postJSON(ctx context.Context, op, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(string(raw))).
		SetBody(json.RawMessage(raw)).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.decode(op, resp, out)
}

func (c *Client) decode(op string, resp *resty.Response, out any) error {
	if resp.StatusCode() != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode(), Body: resp.String(), Op: op}
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w", op, err)
	}
	if env.RetCode != codeOK {
		return &VenueError{Code: env.RetCode, Msg: env.RetMsg, Op: op}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", op, err)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

type instrumentRow struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	LotSizeFilter struct {
		MinOrderQty string `json:"minOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LeverageFilter struct {
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
}

// Instruments fetches the full linear-contract catalog, following the
// pagination cursor until exhausted. Public endpoint, no auth.
func (c *Client) Instruments(ctx context.Context) ([]types.Instrument, error) {
	var all []types.Instrument
	cursor := ""
	for {
		if err := c.rl.Account.Wait(ctx); err != nil {
			return nil, err
		}

		q := url.Values{}
		q.Set("category", category)
		q.Set("limit", "1000")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var result struct {
			List           []instrumentRow `json:"list"`
			NextPageCursor string          `json:"nextPageCursor"`
		}
		if err := c.getJSON(ctx, "instruments", "/v5/market/instruments-info", q, false, &result); err != nil {
			return nil, err
		}

		for _, row := range result.List {
			all = append(all, types.Instrument{
				Symbol:      row.Symbol,
				BaseCoin:    row.BaseCoin,
				MinOrderQty: row.LotSizeFilter.MinOrderQty,
				QtyStep:     row.LotSizeFilter.QtyStep,
				TickSize:    row.PriceFilter.TickSize,
				MaxLeverage: row.LeverageFilter.MaxLeverage,
			})
		}

		if result.NextPageCursor == "" {
			return all, nil
		}
		cursor = result.NextPageCursor
	}
}

// ————————————————————————————————————————————————————————————————————————
// Account state
// ————————————————————————————————————————————————————————————————————————

// Positions returns all live linear positions settled in USDT.
// Entries with size "0" are filtered out.
func (c *Client) Positions(ctx context.Context) ([]types.PositionInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", category)
	q.Set("settleCoin", "USDT")

	var result struct {
		List []types.PositionInfo `json:"list"`
	}
	if err := c.getJSON(ctx, "positions", "/v5/position/list", q, true, &result); err != nil {
		return nil, err
	}

	out := result.List[:0]
	for _, pos := range result.List {
		if size, err := strconv.ParseFloat(pos.Size, 64); err == nil && size > 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

// OpenOrders returns resting orders, optionally filtered by symbol
// (empty symbol = all USDT-settled).
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrderInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", category)
	if symbol != "" {
		q.Set("symbol", symbol)
	} else {
		q.Set("settleCoin", "USDT")
	}

	var result struct {
		List []types.OpenOrderInfo `json:"list"`
	}
	if err := c.getJSON(ctx, "open orders", "/v5/order/realtime", q, true, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// Executions returns the account's fills for symbol within [start, end].
func (c *Client) Executions(ctx context.Context, symbol string, start, end time.Time) ([]types.ExecutionItem, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", "50")

	var result struct {
		List []types.ExecutionItem `json:"list"`
	}
	if err := c.getJSON(ctx, "executions", "/v5/execution/list", q, true, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// OrderStatus looks up an order by its client link id. Returns the venue
// status string, or "" if the order is no longer in the realtime set
// (fully filled orders age out quickly).
func (c *Client) OrderStatus(ctx context.Context, symbol, orderLinkID string) (string, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("orderLinkId", orderLinkID)

	var result struct {
		List []types.OpenOrderInfo `json:"list"`
	}
	if err := c.getJSON(ctx, "order status", "/v5/order/realtime", q, true, &result); err != nil {
		return "", err
	}
	if len(result.List) == 0 {
		return "", nil
	}
	return result.List[0].OrderStatus, nil
}

// ————————————————————————————————————————————————————————————————————————
// Trading
// ————————————————————————————————————————————————————————————————————————

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	PositionIdx int    `json:"positionIdx"`
}

type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

func newOrderLinkID() string {
	return "hlm-" + uuid.NewString()
}

// PlaceMarket submits a market order. qty must be step-aligned. Returns
// the client order link id (used to recover real fills from executions)
// and the venue order id.
func (c *Client) PlaceMarket(ctx context.Context, symbol string, side types.Side, qty string) (linkID, orderID string, err error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", "", err
	}

	req := createOrderRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        string(side),
		OrderType:   "Market",
		Qty:         qty,
		OrderLinkID: newOrderLinkID(),
	}

	var result createOrderResult
	if err := c.postJSON(ctx, "place market", "/v5/order/create", req, &result); err != nil {
		return "", "", err
	}

	c.logger.Info("market order submitted",
		"symbol", symbol, "side", side, "qty", qty, "order_id", result.OrderID)
	return req.OrderLinkID, result.OrderID, nil
}

// PlaceLimit submits a GTC limit order and returns the venue order id.
func (c *Client) PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price string) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	req := createOrderRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        string(side),
		OrderType:   "Limit",
		Qty:         qty,
		Price:       price,
		TimeInForce: "GTC",
		OrderLinkID: newOrderLinkID(),
	}

	var result createOrderResult
	if err := c.postJSON(ctx, "place limit", "/v5/order/create", req, &result); err != nil {
		return "", err
	}

	c.logger.Info("limit order submitted",
		"symbol", symbol, "side", side, "qty", qty, "price", price, "order_id", result.OrderID)
	return result.OrderID, nil
}

// CancelOrder cancels one resting order by venue order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	req := struct {
		Category string `json:"category"`
		Symbol   string `json:"symbol"`
		OrderID  string `json:"orderId"`
	}{category, symbol, orderID}

	if err := c.postJSON(ctx, "cancel order", "/v5/order/cancel", req, nil); err != nil {
		return err
	}
	c.logger.Info("order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

type closedPnLRow struct {
	OrderID      string `json:"orderId"`
	ClosedSize   string `json:"closedSize"`
	AvgExitPrice string `json:"avgExitPrice"`
	ClosedPnL    string `json:"closedPnl"`
}

// ClosePosition reduces or flattens one position with a reduce-only market
// order on the opposite side. qty "" (or equal to the position size) means
// full close. Realized PnL and the exit price are recovered from the
// closed-pnl endpoint once the close lands.
func (c *Client) ClosePosition(ctx context.Context, pos types.PositionInfo, qty string) (types.CloseResult, error) {
	if qty == "" {
		qty = pos.Size
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.CloseResult{}, err
	}

	req := createOrderRequest{
		Category:    category,
		Symbol:      pos.Symbol,
		Side:        string(pos.Side.Opposite()),
		OrderType:   "Market",
		Qty:         qty,
		OrderLinkID: newOrderLinkID(),
		ReduceOnly:  true,
	}

	var created createOrderResult
	if err := c.postJSON(ctx, "close position", "/v5/order/create", req, &created); err != nil {
		return types.CloseResult{}, err
	}

	closedQty, _ := strconv.ParseFloat(qty, 64)
	result := types.CloseResult{OrderID: created.OrderID, ClosedQty: closedQty}

	// Best effort: realized pnl for the notification. The close itself
	// already succeeded, so lookup failures are logged, not returned.
	pnl, exit, err := c.recentClosedPnL(ctx, pos.Symbol, created.OrderID)
	if err != nil {
		c.logger.Warn("closed-pnl lookup failed", "symbol", pos.Symbol, "error", err)
	} else {
		result.RealizedPnL = pnl
		result.AvgPrice = exit
	}

	c.logger.Info("position close submitted",
		"symbol", pos.Symbol, "side", pos.Side, "qty", qty, "pnl", result.RealizedPnL)
	return result, nil
}

func (c *Client) recentClosedPnL(ctx context.Context, symbol, orderID string) (pnl, avgExit float64, err error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return 0, 0, err
	}

	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("limit", "10")

	var result struct {
		List []closedPnLRow `json:"list"`
	}
	if err := c.getJSON(ctx, "closed pnl", "/v5/position/closed-pnl", q, true, &result); err != nil {
		return 0, 0, err
	}

	for _, row := range result.List {
		if row.OrderID == orderID {
			pnl, _ = strconv.ParseFloat(row.ClosedPnL, 64)
			avgExit, _ = strconv.ParseFloat(row.AvgExitPrice, 64)
			return pnl, avgExit, nil
		}
	}
	return 0, 0, nil
}

// SetLeverage sets the symbol's leverage for both position directions.
// The venue's "leverage not modified" reject means the target is already
// set and counts as success (the operation is idempotent).
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}

	lv := strconv.Itoa(leverage)
	req := struct {
		Category     string `json:"category"`
		Symbol       string `json:"symbol"`
		BuyLeverage  string `json:"buyLeverage"`
		SellLeverage string `json:"sellLeverage"`
	}{category, symbol, lv, lv}

	err := c.postJSON(ctx, "set leverage", "/v5/position/set-leverage", req, nil)
	if err != nil {
		var ve *VenueError
		if errors.As(err, &ve) && ve.Code == codeLeverageNotModified {
			return nil
		}
		return err
	}
	return nil
}
