package engine

import (
	"context"
	"fmt"

	"hl-mirror/internal/notify"
	"hl-mirror/internal/symbols"
	"hl-mirror/pkg/types"
)

// handleReverse mirrors a side flip: close any opposite-side position
// entirely, then open fresh on the new side. The two steps are not
// atomic; a step-3 failure after a successful close is reported as a
// partial outcome and the event is marked failed so the operator sees
// it.
func (w *Worker) handleReverse(ctx context.Context, f types.SourceFill) error {
	reversed, newSide := ReverseTarget(f.Direction)
	if !reversed {
		return fmt.Errorf("direction %q is not a reverse flip", f.Direction)
	}
	symbol := symbols.FullSymbol(f.Coin)

	positions, err := w.queryPositions(ctx)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}

	inst, ok := w.registry.Lookup(f.Coin)
	if !ok {
		return fmt.Errorf("instrument %s not listed", f.Coin)
	}

	// Step 2: drain the old side.
	closed := false
	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Side != newSide.Opposite() {
			continue
		}
		if err := w.closeOne(ctx, f, pos, inst, true); err != nil {
			return fmt.Errorf("reverse close: %w", err)
		}
		closed = true
	}
	if closed {
		w.closedSymbols.Add(f.Coin)
	}

	// Step 3: open the new side. The open fill carries the flip's
	// direction, so force the target side explicitly.
	reopened := types.SourceFill{
		ID:            f.ID,
		TxHash:        f.TxHash,
		Timestamp:     f.Timestamp,
		Coin:          f.Coin,
		Side:          sourceSide(newSide),
		Size:          f.Size,
		Price:         f.Price,
		Direction:     openDirection(newSide),
		StartPosition: 0,
	}
	if err := w.handleOpen(ctx, reopened, false); err != nil {
		if err == errSizeSkip {
			return errSizeSkip
		}
		w.sink.Send(ctx, notify.Errorf(w.account.Name, "reverse flip incomplete",
			"%s closed but not re-opened on %s side: %v", symbol, newSide, err))
		return fmt.Errorf("reverse reopen: %w", err)
	}

	// A completed flip means the coin holds a live position again.
	w.closedSymbols.Remove(f.Coin)

	w.logger.Info("reverse flip mirrored", "symbol", symbol, "new_side", newSide)
	return nil
}

func sourceSide(s types.Side) string {
	if s == types.Sell {
		return "SELL"
	}
	return "BUY"
}

func openDirection(s types.Side) string {
	if s == types.Sell {
		return "Open Short"
	}
	return "Open Long"
}
