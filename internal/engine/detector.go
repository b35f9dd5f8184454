package engine

import (
	"encoding/json"
	"math"
	"time"

	"depthwatch/internal/models"
)

const enrichmentDepth = 20

// meanStddev returns the mean and population standard deviation of the
// level sizes.
func meanStddev(levels []models.BookLevel) (float64, float64) {
	if len(levels) == 0 {
		return 0, 0
	}
	var sum float64
	for _, l := range levels {
		sum += l.Size
	}
	mean := sum / float64(len(levels))

	var variance float64
	for _, l := range levels {
		d := l.Size - mean
		variance += d * d
	}
	variance /= float64(len(levels))
	return mean, math.Sqrt(variance)
}

// countOutliers counts levels whose size z-score clears the threshold.
// Zero deviation means no outliers.
func countOutliers(levels []models.BookLevel, z float64) int {
	mean, sigma := meanStddev(levels)
	if sigma == 0 {
		return 0
	}
	count := 0
	for _, l := range levels {
		if (l.Size-mean)/sigma >= z {
			count++
		}
	}
	return count
}

// detectOutliers scans one venue snapshot for resting-size outliers and
// attaches enrichment computed over the top-20 of that book. A missing
// mid disables detection for the snapshot.
func detectOutliers(snap *models.BookSnapshot, ts int64, z float64, hist *MidHistory) []models.OutlierRecord {
	if snap == nil {
		return nil
	}
	mid := snap.Mid()
	if mid <= 0 {
		return nil
	}

	enrich := buildEnrichmentContext(snap, mid, ts, hist)

	var out []models.OutlierRecord
	for _, side := range []struct {
		name   string
		levels []models.BookLevel
	}{
		{models.SideBid, snap.Bids},
		{models.SideAsk, snap.Asks},
	} {
		mean, sigma := meanStddev(side.levels)
		if sigma == 0 {
			continue
		}
		for _, lvl := range side.levels {
			score := (lvl.Size - mean) / sigma
			if score < z {
				continue
			}
			rec := models.OutlierRecord{
				Ts:         ts,
				Symbol:     snap.Symbol,
				Market:     snap.Market,
				Exchange:   snap.Exchange,
				Side:       side.name,
				Price:      lvl.Price,
				Size:       lvl.Size,
				ZScore:     score,
				BpsFromMid: math.Abs(lvl.Price-mid) / mid * 1e4,
			}
			e := *enrich
			e.LevelRank = levelRank(side.levels, lvl.Price)
			rec.Enrichment = &e
			out = append(out, rec)
		}
	}
	return out
}

// levelRank is the 1-based position of price within the side's top-20, or
// 0 when the level sits deeper than that.
func levelRank(levels []models.BookLevel, price float64) int {
	limit := len(levels)
	if limit > enrichmentDepth {
		limit = enrichmentDepth
	}
	for i := 0; i < limit; i++ {
		if levels[i].Price == price {
			return i + 1
		}
	}
	return 0
}

func buildEnrichmentContext(snap *models.BookSnapshot, mid float64, ts int64, hist *MidHistory) *models.OutlierEnrichment {
	bids := topN(snap.Bids, enrichmentDepth)
	asks := topN(snap.Asks, enrichmentDepth)

	var bidDepth, askDepth float64
	for _, l := range bids {
		bidDepth += l.Size
	}
	for _, l := range asks {
		askDepth += l.Size
	}

	var bestBid, bestAsk, bestBidSize, bestAskSize float64
	if len(bids) > 0 {
		bestBid = bids[0].Price
		bestBidSize = bids[0].Size
	}
	if len(asks) > 0 {
		bestAsk = asks[0].Price
		bestAskSize = asks[0].Size
	}

	imbalance := 0.0
	if bidDepth+askDepth > 0 {
		imbalance = (bidDepth - askDepth) / (bidDepth + askDepth)
	}

	microprice := mid
	if bestBidSize+bestAskSize > 0 {
		microprice = (bestAsk*bestBidSize + bestBid*bestAskSize) / (bestBidSize + bestAskSize)
	}

	bookJSON, _ := json.Marshal(map[string][]models.BookLevel{"bids": bids, "asks": asks})

	e := &models.OutlierEnrichment{
		Mid:        mid,
		Book:       string(bookJSON),
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		SpreadBps:  (bestAsk - bestBid) / mid * 1e4,
		Imbalance:  imbalance,
		BidDepth:   bidDepth,
		AskDepth:   askDepth,
		Microprice: microprice,
	}
	if hist != nil {
		e.Vol1m = hist.Vol(snap.Exchange, snap.Market, snap.Symbol, time.Minute, ts)
		e.Vol5m = hist.Vol(snap.Exchange, snap.Market, snap.Symbol, 5*time.Minute, ts)
	}
	return e
}

func topN(levels []models.BookLevel, n int) []models.BookLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}
