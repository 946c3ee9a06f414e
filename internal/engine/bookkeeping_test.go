package engine

import (
	"testing"
	"time"

	"hl-mirror/pkg/types"
)

func TestMemoTTLBoundary(t *testing.T) {
	t.Parallel()

	m := NewLiquidationMemos()
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Write("SOLUSDT", types.Buy, MemoForced, "reduce below minimum lot", 0.05, 0.5)

	m.now = func() time.Time { return base.Add(299 * time.Second) }
	memo, ok := m.Read("SOLUSDT", types.Buy)
	if !ok {
		t.Fatal("memo unreadable at T+299s")
	}
	if memo.Kind != MemoForced || memo.ClosedSize != 0.5 {
		t.Errorf("memo = %+v", memo)
	}

	m.now = func() time.Time { return base.Add(301 * time.Second) }
	if _, ok := m.Read("SOLUSDT", types.Buy); ok {
		t.Error("memo still readable at T+301s")
	}
	// Expired memos are dropped on access.
	m.now = func() time.Time { return base }
	if _, ok := m.Read("SOLUSDT", types.Buy); ok {
		t.Error("expired memo resurrected")
	}
}

func TestMemoKeyedBySymbolAndSide(t *testing.T) {
	t.Parallel()

	m := NewLiquidationMemos()
	m.Write("BTCUSDT", types.Buy, MemoFollow, "source position closed", 1, 0.1)

	if _, ok := m.Read("BTCUSDT", types.Sell); ok {
		t.Error("opposite side reads the memo")
	}
	if _, ok := m.Read("ETHUSDT", types.Buy); ok {
		t.Error("other symbol reads the memo")
	}
	if _, ok := m.Read("BTCUSDT", types.Buy); !ok {
		t.Error("owner cannot read the memo")
	}
}

func TestOrderIdMapRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewOrderIdMap()
	m.Put(42, "ex_A")

	if id, ok := m.Get(42); !ok || id != "ex_A" {
		t.Errorf("Get(42) = %q, %v", id, ok)
	}

	m.Delete(42)
	if _, ok := m.Get(42); ok {
		t.Error("entry survives delete")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestStringSet(t *testing.T) {
	t.Parallel()

	s := newStringSet()
	s.Add("0xaaa")
	if !s.Has("0xaaa") || s.Has("0xbbb") {
		t.Error("set membership wrong")
	}
	s.Remove("0xaaa")
	if s.Has("0xaaa") {
		t.Error("removed element still present")
	}
}
