package book

import (
	"testing"

	"depthwatch/internal/models"
)

func levels(pairs ...float64) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.BookLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func TestApplyDeltaThenDelete(t *testing.T) {
	b := New(models.ExchangeBybit, models.MarketSpot, "BTCUSDT")

	b.ApplyDelta(1, levels(100.0, 2.0, 101.0, 1.0), nil)

	snap, ok := b.Snapshot(50)
	if !ok {
		t.Fatal("expected snapshot after first delta")
	}
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 101 || snap.Bids[0].Size != 1 || snap.Bids[1].Price != 100 || snap.Bids[1].Size != 2 {
		t.Fatalf("unexpected bids: %+v", snap.Bids)
	}

	b.ApplyDelta(2, levels(100.0, 0), nil)

	snap, _ = b.Snapshot(50)
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 101 {
		t.Fatalf("delete not applied: %+v", snap.Bids)
	}

	moves := b.SnapshotResetMoves()
	if moves.Bid.Adds != 2 || moves.Bid.Removals != 1 {
		t.Fatalf("unexpected move counts: %+v", moves.Bid)
	}
	if moves.Bid.SizeDelta != 5 { // 2+1 added, 2 removed
		t.Fatalf("unexpected size delta: %v", moves.Bid.SizeDelta)
	}
}

func TestDeleteAbsentPriceIsNoOp(t *testing.T) {
	b := New(models.ExchangeBybit, models.MarketSpot, "BTCUSDT")
	b.ApplyDelta(1, levels(100.0, 1.0), nil)
	b.SnapshotResetMoves()

	b.ApplyDelta(2, levels(99.0, 0), nil)
	moves := b.SnapshotResetMoves()
	if moves.Bid.Adds != 0 || moves.Bid.Changes != 0 || moves.Bid.Removals != 0 {
		t.Fatalf("phantom tracker event: %+v", moves.Bid)
	}
}

func TestSameSizeReplacementNoChange(t *testing.T) {
	b := New(models.ExchangeBybit, models.MarketPerp, "BTCUSDT")
	b.ApplyDelta(1, levels(100.0, 3.0), nil)
	b.SnapshotResetMoves()

	b.ApplyDelta(2, levels(100.0, 3.0), nil)
	moves := b.SnapshotResetMoves()
	if moves.Bid.Changes != 0 {
		t.Fatalf("same-size replacement must not count as change: %+v", moves.Bid)
	}
}

func TestApplySnapshotDiff(t *testing.T) {
	b := New(models.ExchangeMexc, models.MarketPerp, "BTCUSDT")
	b.ApplySnapshot(1, levels(100.0, 1.0, 99.0, 2.0), nil)
	b.SnapshotResetMoves()

	b.ApplySnapshot(2, levels(100.0, 3.0, 98.0, 1.0), nil)

	snap, _ := b.Snapshot(50)
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 100 || snap.Bids[0].Size != 3 || snap.Bids[1].Price != 98 || snap.Bids[1].Size != 1 {
		t.Fatalf("unexpected bids after snapshot diff: %+v", snap.Bids)
	}

	moves := b.SnapshotResetMoves()
	if moves.Bid.Changes != 1 || moves.Bid.Adds != 1 || moves.Bid.Removals != 1 {
		t.Fatalf("unexpected diff accounting: %+v", moves.Bid)
	}
}

func TestSnapshotSortOrder(t *testing.T) {
	b := New(models.ExchangeBybit, models.MarketPerp, "BTCUSDT")
	b.ApplyDelta(1, levels(100.0, 1.0, 102.0, 1.0, 101.0, 1.0), levels(103.0, 1.0, 105.0, 1.0, 104.0, 1.0))

	snap, _ := b.Snapshot(50)
	for i := 1; i < len(snap.Bids); i++ {
		if snap.Bids[i].Price >= snap.Bids[i-1].Price {
			t.Fatalf("bids not strictly descending: %+v", snap.Bids)
		}
	}
	for i := 1; i < len(snap.Asks); i++ {
		if snap.Asks[i].Price <= snap.Asks[i-1].Price {
			t.Fatalf("asks not strictly ascending: %+v", snap.Asks)
		}
	}
}

func TestSnapshotTruncatesToDepth(t *testing.T) {
	b := New(models.ExchangeBybit, models.MarketPerp, "BTCUSDT")
	var bids []models.BookLevel
	for i := 0; i < 10; i++ {
		bids = append(bids, models.BookLevel{Price: 100 - float64(i), Size: 1})
	}
	b.ApplyDelta(1, bids, nil)

	snap, _ := b.Snapshot(3)
	if len(snap.Bids) != 3 || snap.Bids[0].Price != 100 {
		t.Fatalf("truncation wrong: %+v", snap.Bids)
	}
}

func TestMerge(t *testing.T) {
	a := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Ts:     5,
		Bids:   levels(100.0, 1.0, 99.0, 1.0),
		Asks:   levels(101.0, 2.0),
	}
	b := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Ts:     7,
		Bids:   levels(100.0, 2.0),
		Asks:   levels(101.0, 1.0, 102.0, 1.0),
	}

	merged := Merge(50, a, b)
	if merged == nil {
		t.Fatal("expected merged book")
	}
	if merged.Ts != 7 {
		t.Fatalf("merge should keep freshest ts: %d", merged.Ts)
	}
	if merged.Bids[0].Price != 100 || merged.Bids[0].Size != 3 {
		t.Fatalf("sizes not summed: %+v", merged.Bids)
	}
	if merged.Asks[0].Price != 101 || merged.Asks[0].Size != 3 {
		t.Fatalf("ask sizes not summed: %+v", merged.Asks)
	}
}

func TestMergeNilInputs(t *testing.T) {
	if Merge(50, nil, nil) != nil {
		t.Fatal("merging nothing should return nil")
	}
	only := &models.BookSnapshot{Symbol: "X", Bids: levels(1.0, 1.0)}
	if m := Merge(50, nil, only); m == nil || len(m.Bids) != 1 {
		t.Fatal("single-venue merge should pass through")
	}
}

func TestRegistryObtainIsStable(t *testing.T) {
	r := NewRegistry()
	a := r.Obtain(models.ExchangeBybit, models.MarketSpot, "BTCUSDT")
	b := r.Obtain(models.ExchangeBybit, models.MarketSpot, "BTCUSDT")
	if a != b {
		t.Fatal("Obtain must return the same book for the same triple")
	}
	if r.Lookup(models.ExchangeMexc, models.MarketSpot, "BTCUSDT") != nil {
		t.Fatal("Lookup must not create books")
	}
}
