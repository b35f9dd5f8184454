package engine

import (
	"math"
	"sort"

	"depthwatch/internal/models"
)

// detectLargeMoves diffs two consecutive merged perp books and keeps the
// resting-size jumps whose notional clears the scaled threshold: the base
// notional spread across the levels sitting within the window of mid,
// floored so a near-empty window cannot make every twitch qualify.
func detectLargeMoves(ts int64, symbol string, prev, next *models.BookSnapshot, mid, baseNotional, windowBps, notionalFloor float64) []models.LevelMove {
	if prev == nil || next == nil || mid <= 0 {
		return nil
	}

	windowLevels := 0
	for _, lvl := range append(append([]models.BookLevel{}, next.Bids...), next.Asks...) {
		if math.Abs(lvl.Price-mid)/mid*1e4 <= windowBps {
			windowLevels++
		}
	}
	if windowLevels == 0 {
		windowLevels = 1
	}
	minNotional := math.Max(baseNotional/float64(windowLevels), notionalFloor)

	var out []models.LevelMove
	out = append(out, diffSide(ts, symbol, models.SideBid, prev.Bids, next.Bids, mid, minNotional)...)
	out = append(out, diffSide(ts, symbol, models.SideAsk, prev.Asks, next.Asks, mid, minNotional)...)
	return out
}

func diffSide(ts int64, symbol, side string, prev, next []models.BookLevel, mid, minNotional float64) []models.LevelMove {
	prevSizes := make(map[float64]float64, len(prev))
	for _, lvl := range prev {
		prevSizes[lvl.Price] = lvl.Size
	}
	nextSizes := make(map[float64]float64, len(next))
	for _, lvl := range next {
		nextSizes[lvl.Price] = lvl.Size
	}

	prices := make(map[float64]struct{}, len(prevSizes)+len(nextSizes))
	for p := range prevSizes {
		prices[p] = struct{}{}
	}
	for p := range nextSizes {
		prices[p] = struct{}{}
	}

	var out []models.LevelMove
	for price := range prices {
		prevSize := prevSizes[price]
		nextSize := nextSizes[price]
		delta := nextSize - prevSize
		if delta == 0 {
			continue
		}
		notionalDelta := delta * price
		if math.Abs(notionalDelta) < minNotional {
			continue
		}
		out = append(out, models.LevelMove{
			Ts:            ts,
			Symbol:        symbol,
			Side:          side,
			Price:         price,
			PrevSize:      prevSize,
			NextSize:      nextSize,
			DeltaSize:     delta,
			NotionalDelta: notionalDelta,
			BpsFromMid:    math.Abs(price-mid) / mid * 1e4,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].NotionalDelta) > math.Abs(out[j].NotionalDelta)
	})
	return out
}

// topMoves keeps the n largest moves of one side by absolute notional.
func topMoves(moves []models.LevelMove, side string, n int) []models.LevelMove {
	var filtered []models.LevelMove
	for _, m := range moves {
		if m.Side == side {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > n {
		filtered = filtered[:n]
	}
	return filtered
}
