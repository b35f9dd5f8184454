package engine

import (
	"math"
	"sort"

	"depthwatch/internal/models"
)

type sideMetrics struct {
	totalNotional float64
	binCounts     []int
	maxBps        float64
	avgBps        float64
	outlierCount  int
}

// computeSide summarizes one side of a book around mid: total resting
// notional, distance histogram, distance extremes and the soft z-score
// outlier count.
func computeSide(levels []models.BookLevel, mid float64, bins []float64, zMetrics float64) sideMetrics {
	m := sideMetrics{binCounts: make([]int, len(bins)+1)}
	if mid <= 0 {
		return m
	}

	var sumBps float64
	for _, lvl := range levels {
		m.totalNotional += lvl.Notional()

		bps := math.Abs(lvl.Price-mid) / mid * 1e4
		sumBps += bps
		if bps > m.maxBps {
			m.maxBps = bps
		}
		m.binCounts[binIndex(bins, bps)]++
	}
	if len(levels) > 0 {
		m.avgBps = sumBps / float64(len(levels))
	}
	m.outlierCount = countOutliers(levels, zMetrics)
	return m
}

// binIndex places bps into its histogram bucket; the final bucket catches
// everything past the last bin edge.
func binIndex(bins []float64, bps float64) int {
	for i, edge := range bins {
		if bps <= edge {
			return i
		}
	}
	return len(bins)
}

// buildExchangeMetrics summarizes one venue's perp book. Books missing a
// side produce nil, matching the absent-venue contract.
func buildExchangeMetrics(snap *models.BookSnapshot, bins []float64, zMetrics float64) *models.ExchangeMetrics {
	if snap == nil || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return nil
	}
	mid := snap.Mid()
	if mid <= 0 {
		return nil
	}

	bid := computeSide(snap.Bids, mid, bins, zMetrics)
	ask := computeSide(snap.Asks, mid, bins, zMetrics)

	return &models.ExchangeMetrics{
		BestBid:              snap.Bids[0].Price,
		BestAsk:              snap.Asks[0].Price,
		Mid:                  mid,
		TotalNotionalBid:     bid.totalNotional,
		TotalNotionalAsk:     ask.totalNotional,
		DistanceBinCountsBid: bid.binCounts,
		DistanceBinCountsAsk: ask.binCounts,
		MaxDistanceBpsBid:    bid.maxBps,
		MaxDistanceBpsAsk:    ask.maxBps,
		AvgDistanceBpsBid:    bid.avgBps,
		AvgDistanceBpsAsk:    ask.avgBps,
		OutlierCountBid:      bid.outlierCount,
		OutlierCountAsk:      ask.outlierCount,
	}
}

// largeLevels returns up to five levels whose notional clears the base,
// sorted descending by notional.
func largeLevels(levels []models.BookLevel, mid, baseNotional float64) []models.LargeLevel {
	var out []models.LargeLevel
	for _, lvl := range levels {
		notional := lvl.Notional()
		if notional < baseNotional {
			continue
		}
		bps := 0.0
		if mid > 0 {
			bps = math.Abs(lvl.Price-mid) / mid * 1e4
		}
		out = append(out, models.LargeLevel{
			Price:      lvl.Price,
			Size:       lvl.Size,
			Notional:   notional,
			BpsFromMid: bps,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Notional > out[j].Notional })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

type pointParams struct {
	ts           int64
	symbol       string
	depth        int
	baseNotional float64
	bins         []float64
	zMetrics     float64
}

// buildMetricsPoint assembles the aggregated point from the merged perp
// book. Returns nil when either side is empty.
func buildMetricsPoint(p pointParams, merged *models.BookSnapshot, moves models.SideMoveStats, exchanges map[string]*models.ExchangeMetrics) *models.MetricsPoint {
	if merged == nil || len(merged.Bids) == 0 || len(merged.Asks) == 0 {
		return nil
	}
	mid := merged.Mid()
	if mid <= 0 {
		return nil
	}

	bid := computeSide(merged.Bids, mid, p.bins, p.zMetrics)
	ask := computeSide(merged.Asks, mid, p.bins, p.zMetrics)

	return &models.MetricsPoint{
		Ts:                   p.ts,
		Symbol:               p.symbol,
		BestBid:              merged.Bids[0].Price,
		BestAsk:              merged.Asks[0].Price,
		Mid:                  mid,
		Depth:                p.depth,
		BaseNotional:         p.baseNotional,
		TotalNotionalBid:     bid.totalNotional,
		TotalNotionalAsk:     ask.totalNotional,
		DistanceBinsBps:      p.bins,
		DistanceBinCountsBid: bid.binCounts,
		DistanceBinCountsAsk: ask.binCounts,
		MaxDistanceBpsBid:    bid.maxBps,
		MaxDistanceBpsAsk:    ask.maxBps,
		AvgDistanceBpsBid:    bid.avgBps,
		AvgDistanceBpsAsk:    ask.avgBps,
		OutlierCountBid:      bid.outlierCount,
		OutlierCountAsk:      ask.outlierCount,
		LargeLevelsBid:       largeLevels(merged.Bids, mid, p.baseNotional),
		LargeLevelsAsk:       largeLevels(merged.Asks, mid, p.baseNotional),
		MoveStats:            moves,
		Exchanges:            exchanges,
	}
}
