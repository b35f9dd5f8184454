package engine

import (
	"math"
	"sync"
	"time"
)

type histKey struct {
	exchange string
	market   string
	symbol   string
}

type midPoint struct {
	ts  int64
	mid float64
}

// MidHistory keeps a rolling window of per-venue mid prices for realized
// volatility. Appends and reads both trim points older than the retention.
type MidHistory struct {
	mu        sync.Mutex
	retention time.Duration
	points    map[histKey][]midPoint
}

func NewMidHistory(retention time.Duration) *MidHistory {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &MidHistory{
		retention: retention,
		points:    make(map[histKey][]midPoint),
	}
}

// Append records one (ts, mid) observation. Non-positive mids are ignored.
func (h *MidHistory) Append(exchange, market, symbol string, ts int64, mid float64) {
	if mid <= 0 {
		return
	}
	k := histKey{exchange: exchange, market: market, symbol: symbol}

	h.mu.Lock()
	defer h.mu.Unlock()

	pts := append(h.points[k], midPoint{ts: ts, mid: mid})
	h.points[k] = trimOld(pts, ts-h.retention.Milliseconds())
}

// Vol returns the realized volatility over the window ending at now:
// sqrt(sum(ln(mid_i/mid_{i-1})^2) / (n-1)) over the n points inside the
// window. Fewer than two points yield zero.
func (h *MidHistory) Vol(exchange, market, symbol string, window time.Duration, now int64) float64 {
	k := histKey{exchange: exchange, market: market, symbol: symbol}
	cutoff := now - window.Milliseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	pts := h.points[k]
	start := 0
	for start < len(pts) && pts[start].ts < cutoff {
		start++
	}
	pts = pts[start:]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for i := 1; i < len(pts); i++ {
		if pts[i-1].mid <= 0 || pts[i].mid <= 0 {
			continue
		}
		r := math.Log(pts[i].mid / pts[i-1].mid)
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(pts)-1))
}

func trimOld(pts []midPoint, cutoff int64) []midPoint {
	start := 0
	for start < len(pts) && pts[start].ts < cutoff {
		start++
	}
	if start == 0 {
		return pts
	}
	return append(pts[:0:0], pts[start:]...)
}
