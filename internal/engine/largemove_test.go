package engine

import (
	"math"
	"testing"

	"depthwatch/internal/models"
)

func TestLargeMoveThreshold(t *testing.T) {
	prev := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Asks:   []models.BookLevel{{Price: 101, Size: 50}},
	}
	next := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Asks:   []models.BookLevel{{Price: 101, Size: 200}},
	}

	// One window level scales the base to 30000; 150*101 = 15150 misses it.
	moves := detectLargeMoves(1, "BTCUSDT", prev, next, 100, 30000, 200, 2000)
	if len(moves) != 0 {
		t.Fatalf("move below scaled threshold reported: %+v", moves)
	}

	next.Asks[0].Size = 500
	moves = detectLargeMoves(1, "BTCUSDT", prev, next, 100, 30000, 200, 2000)
	if len(moves) != 1 {
		t.Fatalf("expected one qualifying move, got %d", len(moves))
	}
	m := moves[0]
	if m.DeltaSize != 450 {
		t.Fatalf("delta size = %v, want 450", m.DeltaSize)
	}
	if math.Abs(m.NotionalDelta-45450) > 1e-9 {
		t.Fatalf("notional delta = %v, want 45450", m.NotionalDelta)
	}
	if math.Abs(m.BpsFromMid-100) > 1e-9 {
		t.Fatalf("bps from mid = %v, want 100", m.BpsFromMid)
	}
	if m.Side != models.SideAsk {
		t.Fatalf("side = %s", m.Side)
	}
}

func TestLargeMoveFloor(t *testing.T) {
	prev := &models.BookSnapshot{Symbol: "X", Asks: []models.BookLevel{}}
	next := &models.BookSnapshot{Symbol: "X"}
	// Spread the base across many window levels so the floor binds.
	for i := 0; i < 100; i++ {
		next.Asks = append(next.Asks, models.BookLevel{Price: 100 + float64(i)*0.01, Size: 1})
	}
	// scaled = 30000/100 = 300 < floor 2000. Each ~100-notional add misses.
	moves := detectLargeMoves(1, "X", prev, next, 100, 30000, 200, 2000)
	for _, m := range moves {
		if math.Abs(m.NotionalDelta) < 2000 {
			t.Fatalf("floor not enforced: %+v", m)
		}
	}
}

func TestLargeMoveRemovalIsNegative(t *testing.T) {
	prev := &models.BookSnapshot{
		Symbol: "X",
		Bids:   []models.BookLevel{{Price: 100, Size: 1000}},
	}
	next := &models.BookSnapshot{
		Symbol: "X",
		Bids:   []models.BookLevel{{Price: 100, Size: 1}},
	}
	moves := detectLargeMoves(1, "X", prev, next, 100, 30000, 200, 2000)
	if len(moves) != 1 {
		t.Fatalf("expected one move, got %d", len(moves))
	}
	if moves[0].NotionalDelta >= 0 {
		t.Fatalf("removal must have negative notional delta: %+v", moves[0])
	}
}

func TestLargeMoveNilBooks(t *testing.T) {
	next := &models.BookSnapshot{Symbol: "X", Bids: []models.BookLevel{{Price: 100, Size: 1}}}
	if moves := detectLargeMoves(1, "X", nil, next, 100, 30000, 200, 2000); moves != nil {
		t.Fatal("first tick has no previous book and must not report")
	}
}

func TestTopMoves(t *testing.T) {
	var moves []models.LevelMove
	for i := 0; i < 12; i++ {
		moves = append(moves, models.LevelMove{Side: models.SideBid, NotionalDelta: float64(1000 - i)})
	}
	top := topMoves(moves, models.SideBid, 8)
	if len(top) != 8 {
		t.Fatalf("top moves = %d, want 8", len(top))
	}
	if len(topMoves(moves, models.SideAsk, 8)) != 0 {
		t.Fatal("ask side should be empty")
	}
}
