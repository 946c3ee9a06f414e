package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"hl-mirror/internal/notify"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// cancelPriceTolerance is the price-match window used when a cancel's
// source order id has no map entry.
const cancelPriceTolerance = 0.01

// processOrder dispatches one source limit-order event (placement or
// cancellation) and writes its terminal status.
func (w *Worker) processOrder(ctx context.Context, o types.SourceOrder) {
	logger := w.logger.With("order_event_id", o.ID, "coin", o.Coin, "action", o.Action)
	logger.Info("order event", "side", o.Side, "price", o.Price, "size", o.Size, "source_order_id", o.OrderID)

	var status types.ProcessStatus
	var detail string

	switch o.Action {
	case types.ActionPlaced:
		status, detail = w.handlePlace(ctx, o, logger)
	case types.ActionCanceled:
		status, detail = w.handleCancel(ctx, o, logger)
	default:
		status, detail = types.StatusUnsupported, fmt.Sprintf("action %q", o.Action)
	}

	if err := w.log.UpdateOrderStatus(ctx, w.account.Name, o.ID, status, detail); err != nil {
		logger.Error("order status update failed", "status", status, "error", err)
	}
}

// handlePlace mirrors a source limit order. An existing open order with
// identical symbol, side and price means the placement was already
// mirrored (or the user placed it manually) and is skipped.
func (w *Worker) handlePlace(ctx context.Context, o types.SourceOrder, logger *slog.Logger) (types.ProcessStatus, string) {
	if !w.allow.Allowed(o.Coin) || !w.registry.Listed(o.Coin) {
		return types.StatusUnsupported, ""
	}
	inst, _ := w.registry.Lookup(o.Coin)
	side := types.NormalizeSide(o.Side, "")

	open, err := w.venue.OpenOrders(ctx, inst.Symbol)
	if err != nil {
		logger.Warn("open orders query failed, placing anyway", "error", err)
	}
	for _, existing := range open {
		price, perr := strconv.ParseFloat(existing.Price, 64)
		if perr == nil && existing.Side == side && math.Abs(price-o.Price) < cancelPriceTolerance {
			logger.Info("identical open order exists, skipping", "order_id", existing.OrderID)
			return types.StatusProcessed, "duplicate open order"
		}
	}

	qty := w.sizer.Quantity(o.Size, o.Price, inst)
	if qty.IsZero() {
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "limit order skipped by sizing",
			"%s %s source size %.6f at %.4f below min copy value %.2f or min lot %s",
			inst.Symbol, side, o.Size, o.Price, w.account.Sizing.MinCopyValue, inst.MinOrderQty))
		return types.StatusFiltered, errSizeSkip.Error()
	}

	leverage := w.account.Leverage.For(o.Coin)
	if err := w.setLeverage(ctx, inst.Symbol, leverage); err != nil {
		logger.Warn("leverage set failed, continuing with current", "error", err)
	}

	price := symbols.AlignPrice(decimal.NewFromFloat(o.Price), inst)

	var destID string
	err = w.criticalRetry.Do(ctx, w.logger, "place limit", func() error {
		var err error
		destID, err = w.venue.PlaceLimit(ctx, inst.Symbol, side, qty.String(), price.String())
		return err
	})
	if err != nil {
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "limit order failed",
			"%s %s %s @ %s: %v", inst.Symbol, side, qty, price, err))
		return types.StatusFailed, err.Error()
	}

	w.orderMap.Put(o.OrderID, destID)

	if _, err := w.log.InsertMirrorOrder(ctx, types.MirrorOrder{
		Timestamp:    w.now(),
		Account:      w.account.Name,
		Symbol:       inst.Symbol,
		Side:         side,
		OrderType:    "Limit",
		TradeType:    "open",
		Size:         decToFloat(qty),
		Price:        decToFloat(price),
		VenueOrderID: destID,
		Status:       types.OrderStatusNew,
	}); err != nil {
		logger.Warn("audit record failed", "order_id", destID, "error", err)
	}

	ev := notify.Successf(w.account.Name, "limit order mirrored",
		"%s %s %s @ %s", inst.Symbol, side, qty, price)
	ev.Fields = map[string]string{
		"symbol": inst.Symbol,
		"side":   string(side),
		"size":   qty.String(),
		"price":  price.String(),
	}
	w.sink.Send(ctx, ev)

	logger.Info("limit order placed", "symbol", inst.Symbol, "dest_order_id", destID,
		"qty", qty.String(), "price", price.String())
	return types.StatusProcessed, ""
}

// handleCancel translates a source cancel to the mapped destination
// order, falling back to a price match across open orders. A cancel
// whose target cannot be found anywhere is a no-op success: the order
// is effectively not present.
func (w *Worker) handleCancel(ctx context.Context, o types.SourceOrder, logger *slog.Logger) (types.ProcessStatus, string) {
	symbol := symbols.FullSymbol(o.Coin)
	side := types.NormalizeSide(o.Side, "")

	destID, mapped := w.orderMap.Get(o.OrderID)
	if !mapped {
		open, err := w.venue.OpenOrders(ctx, symbol)
		if err != nil {
			logger.Error("open orders query failed", "error", err)
			return types.StatusFailed, err.Error()
		}
		for _, existing := range open {
			price, perr := strconv.ParseFloat(existing.Price, 64)
			if perr == nil && existing.Side == side && math.Abs(price-o.Price) < cancelPriceTolerance {
				destID = existing.OrderID
				break
			}
		}
	}

	if destID == "" {
		logger.Info("cancel target not found, treating as done", "source_order_id", o.OrderID)
		return types.StatusProcessed, "order not present"
	}

	err := w.apiRetry.Do(ctx, w.logger, "cancel order", func() error {
		return w.venue.CancelOrder(ctx, symbol, destID)
	})
	if err != nil {
		logger.Error("cancel failed", "dest_order_id", destID, "error", err)
		return types.StatusFailed, err.Error()
	}

	w.orderMap.Delete(o.OrderID)

	logger.Info("order cancel mirrored", "symbol", symbol, "dest_order_id", destID)
	return types.StatusProcessed, ""
}
