package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"hl-mirror/internal/exchange"
	"hl-mirror/internal/notify"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// handleClose mirrors a closing fill. Live positions are queried fresh
// (never cached) and every position on the coin's symbol is considered,
// both sides: a full close drains them all, a partial close reduces by
// min(source size, position size) and is promoted to a full close when
// that reduce would fall under the venue's minimum lot.
func (w *Worker) handleClose(ctx context.Context, f types.SourceFill, full bool) error {
	symbol := symbols.FullSymbol(f.Coin)

	positions, err := w.queryPositions(ctx)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}

	var targets []types.PositionInfo
	for _, p := range positions {
		if p.Symbol == symbol {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		w.logger.Info("nothing to close", "symbol", symbol)
		return nil
	}

	inst, _ := w.registry.Lookup(f.Coin)

	for _, pos := range targets {
		if err := w.closeOne(ctx, f, pos, inst, full); err != nil {
			return err
		}
	}

	if full {
		w.closedSymbols.Add(f.Coin)
	}
	return nil
}

// closeOne closes or reduces a single position, with the
// position-is-zero recovery path and the minimum-lot promotion.
func (w *Worker) closeOne(ctx context.Context, f types.SourceFill, pos types.PositionInfo, inst types.Instrument, full bool) error {
	posSize, err := decimal.NewFromString(pos.Size)
	if err != nil {
		return fmt.Errorf("position size %q: %w", pos.Size, err)
	}

	closeQty := decimal.Zero // zero = full close on the venue side
	promoted := false

	if !full {
		srcSize := decimal.NewFromFloat(f.Size)
		closeQty = decimal.Min(srcSize, posSize)

		minLot, lotErr := decimal.NewFromString(inst.MinOrderQty)
		aligned := symbols.ClampQty(closeQty, inst)
		if aligned.IsZero() || (lotErr == nil && aligned.LessThan(minLot)) {
			// The reduce cannot be expressed as a venue order; close
			// the whole position instead.
			promoted = true
			closeQty = decimal.Zero
		} else {
			closeQty = aligned
		}
	}

	qtyArg := ""
	if !closeQty.IsZero() {
		qtyArg = closeQty.String()
	}

	var result types.CloseResult
	err = w.criticalRetry.Do(ctx, w.logger, "close position", func() error {
		var err error
		result, err = w.venue.ClosePosition(ctx, pos, qtyArg)
		return err
	})

	if err != nil {
		if exchange.IsPositionZero(err) {
			return w.recoverPositionZero(ctx, pos)
		}
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "close failed",
			"%s %s: %v", pos.Symbol, pos.Side, err))
		return fmt.Errorf("close %s %s: %w", pos.Symbol, pos.Side, err)
	}

	isFullClose := full || promoted
	switch {
	case promoted:
		w.memos.Write(pos.Symbol, pos.Side, MemoForced,
			"reduce below minimum lot", f.Size, result.ClosedQty)
	case isFullClose:
		w.memos.Write(pos.Symbol, pos.Side, MemoFollow,
			"source position closed", f.Size, result.ClosedQty)
	}

	tradeType := "reduce"
	title := "position reduced"
	if isFullClose {
		tradeType = "close"
		title = "position closed"
	}
	if promoted {
		title = "reduce executed as full close due to minimum-lot constraint"
	}

	if _, err := w.log.InsertMirrorOrder(ctx, types.MirrorOrder{
		Timestamp:    w.now(),
		Account:      w.account.Name,
		Symbol:       pos.Symbol,
		Side:         pos.Side.Opposite(),
		OrderType:    "Market",
		TradeType:    tradeType,
		Size:         result.ClosedQty,
		Price:        result.AvgPrice,
		VenueOrderID: result.OrderID,
		Status:       types.OrderStatusFilled,
	}); err != nil {
		w.logger.Warn("audit record failed", "order_id", result.OrderID, "error", err)
	}

	w.emit(PositionEvent{
		Kind:        PositionClosed,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Qty:         result.ClosedQty,
		Price:       result.AvgPrice,
		RealizedPnL: result.RealizedPnL,
	})

	if !w.notifiedOrders.Has(result.OrderID) {
		w.notifiedOrders.Add(result.OrderID)
		ev := notify.Event{
			Account: w.account.Name,
			Kind:    notify.KindClose,
			Title:   title,
			Body: fmt.Sprintf("%s %s closed %.6f @ %.4f, realized pnl %.4f",
				pos.Symbol, pos.Side, result.ClosedQty, result.AvgPrice, result.RealizedPnL),
			Fields: map[string]string{
				"symbol": pos.Symbol,
				"side":   string(pos.Side),
				"size":   strconv.FormatFloat(result.ClosedQty, 'f', -1, 64),
				"pnl":    strconv.FormatFloat(result.RealizedPnL, 'f', -1, 64),
			},
		}
		w.sink.Send(ctx, ev)
	}

	w.logger.Info("position close mirrored",
		"symbol", pos.Symbol,
		"side", pos.Side,
		"qty", result.ClosedQty,
		"pnl", result.RealizedPnL,
		"trade_type", tradeType,
		"promoted", promoted,
	)
	return nil
}

// recoverPositionZero handles the venue's "position is zero" reject:
// wait, requery, and if the position is genuinely flat the close has
// effectively succeeded — no failure, no failure notification.
func (w *Worker) recoverPositionZero(ctx context.Context, pos types.PositionInfo) error {
	w.logger.Info("position-is-zero reject, requerying",
		"symbol", pos.Symbol, "side", pos.Side)

	if err := w.sleep(ctx, positionZeroWait); err != nil {
		return err
	}

	positions, err := w.queryPositions(ctx)
	if err != nil {
		return fmt.Errorf("position-zero requery: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == pos.Symbol && p.Side == pos.Side {
			return fmt.Errorf("close rejected as position-is-zero but %s %s still holds %s",
				p.Symbol, p.Side, p.Size)
		}
	}

	w.logger.Info("position confirmed flat, close treated as success",
		"symbol", pos.Symbol, "side", pos.Side)
	return nil
}

func (w *Worker) queryPositions(ctx context.Context) ([]types.PositionInfo, error) {
	var positions []types.PositionInfo
	err := w.criticalRetry.Do(ctx, w.logger, "query positions", func() error {
		var err error
		positions, err = w.venue.Positions(ctx)
		return err
	})
	return positions, err
}
