package book

import (
	"sort"

	"depthwatch/internal/models"
)

// Merge combines venue snapshots by price with summed size, sorts each
// side and truncates to depth. Nil snapshots are skipped; nil is returned
// when nothing remains.
func Merge(depth int, snaps ...*models.BookSnapshot) *models.BookSnapshot {
	bids := make(map[float64]float64)
	asks := make(map[float64]float64)
	var symbol string
	var ts int64

	for _, s := range snaps {
		if s == nil {
			continue
		}
		symbol = s.Symbol
		if s.Ts > ts {
			ts = s.Ts
		}
		for _, lvl := range s.Bids {
			bids[lvl.Price] += lvl.Size
		}
		for _, lvl := range s.Asks {
			asks[lvl.Price] += lvl.Size
		}
	}

	if len(bids) == 0 && len(asks) == 0 {
		return nil
	}

	return &models.BookSnapshot{
		Symbol: symbol,
		Ts:     ts,
		Bids:   sortMap(bids, true, depth),
		Asks:   sortMap(asks, false, depth),
	}
}

func sortMap(state map[float64]float64, descending bool, n int) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(state))
	for price, size := range state {
		levels = append(levels, models.BookLevel{Price: price, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	return levels
}
