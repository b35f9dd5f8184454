package engine

import (
	"math"
	"testing"

	"depthwatch/internal/models"
)

var testBins = []float64{5, 10, 25, 50, 100, 200}

func TestComputeSideHistogram(t *testing.T) {
	mid := 100.0
	levels := []models.BookLevel{
		{Price: 100.01, Size: 1}, // 1 bps
		{Price: 100.08, Size: 1}, // 8 bps
		{Price: 101.0, Size: 1},  // 100 bps
		{Price: 105.0, Size: 1},  // 500 bps -> overflow bucket
	}
	m := computeSide(levels, mid, testBins, 4)

	if len(m.binCounts) != len(testBins)+1 {
		t.Fatalf("bin count length = %d, want %d", len(m.binCounts), len(testBins)+1)
	}
	sum := 0
	for _, c := range m.binCounts {
		sum += c
	}
	if sum != len(levels) {
		t.Fatalf("bin counts sum = %d, want %d", sum, len(levels))
	}
	if m.binCounts[0] != 1 || m.binCounts[1] != 1 || m.binCounts[4] != 1 || m.binCounts[len(testBins)] != 1 {
		t.Fatalf("wrong buckets: %v", m.binCounts)
	}
	if math.Abs(m.maxBps-500) > 0.5 {
		t.Fatalf("max bps = %v", m.maxBps)
	}
}

func TestComputeSideSingleLevel(t *testing.T) {
	m := computeSide([]models.BookLevel{{Price: 100.01, Size: 3}}, 100, testBins, 4)
	sum := 0
	for _, c := range m.binCounts {
		sum += c
	}
	if sum != 1 {
		t.Fatalf("single level must increment exactly one bucket, counts %v", m.binCounts)
	}
	if m.outlierCount != 0 {
		t.Fatalf("sigma=0 must yield zero soft outliers, got %d", m.outlierCount)
	}
	if m.totalNotional != 100.01*3 {
		t.Fatalf("total notional = %v", m.totalNotional)
	}
}

func TestBuildMetricsPointInvariants(t *testing.T) {
	merged := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   []models.BookLevel{{Price: 100, Size: 2}, {Price: 99, Size: 1}},
		Asks:   []models.BookLevel{{Price: 102, Size: 1}, {Price: 103, Size: 4}},
	}
	p := buildMetricsPoint(pointParams{
		ts: 42, symbol: "BTCUSDT", depth: 50, baseNotional: 30000, bins: testBins, zMetrics: 4,
	}, merged, models.SideMoveStats{}, nil)

	if p == nil {
		t.Fatal("expected a point")
	}
	if p.BestBid > p.Mid || p.Mid > p.BestAsk {
		t.Fatalf("mid ordering violated: %v %v %v", p.BestBid, p.Mid, p.BestAsk)
	}
	if p.Mid != (p.BestBid+p.BestAsk)/2 {
		t.Fatalf("mid is not the midpoint: %v", p.Mid)
	}
	if len(p.DistanceBinCountsBid) != len(testBins)+1 || len(p.DistanceBinCountsAsk) != len(testBins)+1 {
		t.Fatal("distance bin counts have wrong length")
	}
}

func TestBuildMetricsPointEmptySide(t *testing.T) {
	onlyBids := &models.BookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   []models.BookLevel{{Price: 100, Size: 2}},
	}
	if p := buildMetricsPoint(pointParams{ts: 1, symbol: "BTCUSDT", bins: testBins}, onlyBids, models.SideMoveStats{}, nil); p != nil {
		t.Fatal("empty ask side must not produce a point")
	}
	if p := buildMetricsPoint(pointParams{ts: 1, symbol: "BTCUSDT", bins: testBins}, nil, models.SideMoveStats{}, nil); p != nil {
		t.Fatal("nil book must not produce a point")
	}
}

func TestLargeLevels(t *testing.T) {
	levels := []models.BookLevel{
		{Price: 100, Size: 400},  // 40k
		{Price: 100, Size: 100},  // 10k, below base
		{Price: 99, Size: 1000},  // 99k
		{Price: 98, Size: 500},   // 49k
		{Price: 97, Size: 400},   // 38.8k
		{Price: 96, Size: 380},   // 36.5k
		{Price: 95, Size: 370},   // 35.2k
		{Price: 94, Size: 360},   // 33.8k
	}
	out := largeLevels(levels, 100, 30000)
	if len(out) != 5 {
		t.Fatalf("expected cap at 5 large levels, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Notional > out[i-1].Notional {
			t.Fatalf("large levels not sorted desc: %+v", out)
		}
	}
	if out[0].Notional != 99000 {
		t.Fatalf("biggest level wrong: %+v", out[0])
	}
}

func TestBuildExchangeMetricsMissingSide(t *testing.T) {
	snap := &models.BookSnapshot{
		Exchange: models.ExchangeMexc,
		Symbol:   "BTCUSDT",
		Bids:     []models.BookLevel{{Price: 100, Size: 1}},
	}
	if em := buildExchangeMetrics(snap, testBins, 4); em != nil {
		t.Fatal("one-sided venue book must not produce exchange metrics")
	}
}
