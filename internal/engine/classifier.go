package engine

import (
	"math"
	"strings"

	"hl-mirror/pkg/types"
)

// Outcome is the classification of one source fill. Exactly one outcome
// per fill; the dispatcher switches on it.
type Outcome int

const (
	Open Outcome = iota
	Add
	CloseFull
	ClosePartial
	ReverseFlip
	TwapSlice
	SkipFiltered
	SkipDuplicate
	SkipUnsupported
	SkipStale
	Skip
)

func (o Outcome) String() string {
	switch o {
	case Open:
		return "open"
	case Add:
		return "add"
	case CloseFull:
		return "close_full"
	case ClosePartial:
		return "close_partial"
	case ReverseFlip:
		return "reverse_flip"
	case TwapSlice:
		return "twap_slice"
	case SkipFiltered:
		return "skip_filtered"
	case SkipDuplicate:
		return "skip_duplicate"
	case SkipUnsupported:
		return "skip_unsupported"
	case SkipStale:
		return "skip_stale"
	default:
		return "skip"
	}
}

// fullCloseRatio is the |size/start_position| threshold above which a
// reduce counts as a full close. Slightly under 1 to absorb the source
// venue's size rounding.
const fullCloseRatio = 0.995

// FillContext carries the per-account state the classifier consults.
// The worker computes it before each classification so Classify stays a
// pure function.
type FillContext struct {
	SeenTxHash  bool // non-sentinel tx hash already processed
	Allowed     bool // coin passes the allowlist
	Listed      bool // destination lists the symbol
	Stale       bool // age filter enabled and fill too old
	TwapParent  bool // fill's oid is a tracked TWAP parent
	HasSameSide bool // destination holds a same-side position already
}

// Classify maps one source fill to its outcome. Rule order is a hard
// contract: earlier rules win, and the full-close check deliberately
// precedes the reverse-flip pattern so a flip's closing leg drains every
// destination position first.
func Classify(f types.SourceFill, fc FillContext) Outcome {
	if f.HasTxHash() && fc.SeenTxHash {
		return SkipDuplicate
	}
	if !fc.Allowed || !fc.Listed {
		return SkipUnsupported
	}
	if fc.Stale {
		return SkipStale
	}

	isFullClose := f.StartPosition != 0 &&
		math.Abs(f.Size/f.StartPosition) >= fullCloseRatio
	if isFullClose {
		return CloseFull
	}

	if reversed, _ := ReverseTarget(f.Direction); reversed {
		return ReverseFlip
	}

	if f.OID != 0 && fc.TwapParent {
		return TwapSlice
	}

	dir := strings.ToLower(f.Direction)
	if f.ClosedPnL != 0 || strings.Contains(dir, "close") {
		return ClosePartial
	}
	if strings.Contains(dir, "open") {
		if fc.HasSameSide {
			return Add
		}
		return Open
	}
	return Skip
}

// ReverseTarget reports whether direction is a reverse-flip label and,
// if so, the new position side ("Long > Short" → Sell, "Short > Long" →
// Buy).
func ReverseTarget(direction string) (bool, types.Side) {
	if !strings.Contains(direction, ">") {
		return false, ""
	}
	d := strings.ToLower(strings.TrimSpace(direction))
	switch {
	case strings.HasPrefix(d, "long") && strings.HasSuffix(d, "short"):
		return true, types.Sell
	case strings.HasPrefix(d, "short") && strings.HasSuffix(d, "long"):
		return true, types.Buy
	}
	return false, ""
}
