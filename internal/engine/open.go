package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"hl-mirror/internal/notify"
	"hl-mirror/pkg/types"
)

// handleOpen mirrors an open or add fill with a destination market
// order: size via the calculator, leverage pre-set, then place, wait
// for the fill, and recover the real executed quantity and price from
// the executions history.
func (w *Worker) handleOpen(ctx context.Context, f types.SourceFill, isAdd bool) error {
	inst, ok := w.registry.Lookup(f.Coin)
	if !ok {
		return fmt.Errorf("instrument %s not listed", f.Coin)
	}

	qty := w.sizer.Quantity(f.Size, f.Price, inst)
	if qty.IsZero() {
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "order skipped by sizing",
			"%s %s source size %.6f at %.4f fell below min copy value %.2f or min lot %s",
			inst.Symbol, f.Side, f.Size, f.Price, w.account.Sizing.MinCopyValue, inst.MinOrderQty))
		return errSizeSkip
	}

	side := types.NormalizeSide(f.Side, f.Direction)
	leverage := w.account.Leverage.For(f.Coin)

	if err := w.setLeverage(ctx, inst.Symbol, leverage); err != nil {
		w.logger.Warn("leverage set failed, continuing with current",
			"symbol", inst.Symbol, "leverage", leverage, "error", err)
	}

	var linkID, orderID string
	err := w.criticalRetry.Do(ctx, w.logger, "place market", func() error {
		var err error
		linkID, orderID, err = w.venue.PlaceMarket(ctx, inst.Symbol, side, qty.String())
		return err
	})
	if err != nil {
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "market order failed",
			"%s %s %s: %v", inst.Symbol, side, qty, err))
		return fmt.Errorf("place market: %w", err)
	}

	if err := w.waitForFill(ctx, inst.Symbol, linkID); err != nil {
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "market order not filled",
			"%s %s %s: %v", inst.Symbol, side, qty, err))
		return fmt.Errorf("wait for fill: %w", err)
	}

	filledQty, avgPrice := w.recoverExecution(ctx, inst.Symbol, linkID, qty, f.Price)

	// A fresh or grown position means any previous close of this coin
	// is history.
	w.closedSymbols.Remove(f.Coin)

	tradeType := "open"
	title := "position opened"
	if isAdd {
		tradeType = "add"
		title = "position increased"
	}

	if _, err := w.log.InsertMirrorOrder(ctx, types.MirrorOrder{
		Timestamp:    w.now(),
		Account:      w.account.Name,
		Symbol:       inst.Symbol,
		Side:         side,
		OrderType:    "Market",
		TradeType:    tradeType,
		Size:         decToFloat(filledQty),
		Price:        avgPrice,
		VenueOrderID: orderID,
		Status:       types.OrderStatusFilled,
	}); err != nil {
		w.logger.Warn("audit record failed", "order_id", orderID, "error", err)
	}

	w.emit(PositionEvent{
		Kind:   PositionOpened,
		Symbol: inst.Symbol,
		Side:   side,
		Qty:    decToFloat(filledQty),
		Price:  avgPrice,
	})

	if !w.notifiedOrders.Has(orderID) {
		w.notifiedOrders.Add(orderID)
		ev := notify.Successf(w.account.Name, title,
			"%s %s %s @ %.4f (leverage %dx)", inst.Symbol, side, filledQty, avgPrice, leverage)
		ev.Fields = map[string]string{
			"symbol":   inst.Symbol,
			"side":     string(side),
			"size":     filledQty.String(),
			"price":    strconv.FormatFloat(avgPrice, 'f', -1, 64),
			"leverage": strconv.Itoa(leverage),
		}
		w.sink.Send(ctx, ev)
	}

	w.logger.Info("position mirrored",
		"symbol", inst.Symbol,
		"side", side,
		"qty", filledQty.String(),
		"avg_price", avgPrice,
		"trade_type", tradeType,
	)
	return nil
}

func (w *Worker) setLeverage(ctx context.Context, symbol string, leverage int) error {
	return w.apiRetry.Do(ctx, w.logger, "set leverage", func() error {
		return w.venue.SetLeverage(ctx, symbol, leverage)
	})
}

// waitForFill blocks until the market order reaches a terminal status,
// the order ages out of the realtime set (treated as filled), or the
// 30 s ceiling expires. The private order feed, when connected, resolves
// the wait early; REST polling is the floor.
func (w *Worker) waitForFill(ctx context.Context, symbol, linkID string) error {
	deadline := w.now().Add(fillWaitCeiling)

	for {
		status, err := w.venue.OrderStatus(ctx, symbol, linkID)
		if err != nil {
			w.logger.Warn("order status poll failed", "link_id", linkID, "error", err)
		} else {
			switch status {
			case "", types.OrderStatusFilled:
				// Aged out of the realtime set = executed.
				return nil
			case types.OrderStatusCancelled, types.OrderStatusRejected:
				return fmt.Errorf("order %s: %s", linkID, status)
			}
		}

		if w.now().After(deadline) {
			return fmt.Errorf("order %s not filled within %s", linkID, fillWaitCeiling)
		}

		if done := w.awaitOrderUpdate(ctx, linkID, fillPollInterval); done {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// awaitOrderUpdate waits one poll interval, returning early (true) if
// the private feed reports the order filled in the meantime.
func (w *Worker) awaitOrderUpdate(ctx context.Context, linkID string, d time.Duration) bool {
	if w.orderFeed == nil {
		w.sleep(ctx, d)
		return false
	}

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return false
		case upd := <-w.orderFeed:
			if upd.OrderLinkID == linkID && upd.OrderStatus == types.OrderStatusFilled {
				return true
			}
		}
	}
}

// recoverExecution computes the real filled quantity and VWAP price
// from the venue's execution history. Falls back to the requested
// quantity and source price when no execution is visible yet.
func (w *Worker) recoverExecution(ctx context.Context, symbol, linkID string, requested decimal.Decimal, sourcePrice float64) (decimal.Decimal, float64) {
	end := w.now()
	execs, err := w.venue.Executions(ctx, symbol, end.Add(-executionsWindow), end)
	if err != nil {
		w.logger.Warn("executions query failed, using requested size", "error", err)
		return requested, sourcePrice
	}

	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, e := range execs {
		if e.OrderLinkID != linkID {
			continue
		}
		q, err := decimal.NewFromString(e.ExecQty)
		if err != nil {
			continue
		}
		p, err := decimal.NewFromString(e.ExecPrice)
		if err != nil {
			continue
		}
		totalQty = totalQty.Add(q)
		totalNotional = totalNotional.Add(q.Mul(p))
	}

	if totalQty.IsZero() {
		return requested, sourcePrice
	}
	vwap, _ := totalNotional.Div(totalQty).Float64()
	return totalQty, vwap
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
