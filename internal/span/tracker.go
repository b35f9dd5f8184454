// Package span tracks the lifetime of resting-depth outliers: a span
// opens the first tick a level clears the z threshold, extends while the
// level keeps clearing it, and closes — enriched with book context and
// nearby trade flow — the first tick it does not.
package span

import (
	"math"
	"strings"
	"sync"

	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// Appender persists closed spans.
type Appender interface {
	AppendSpan(models.OutlierSpan) error
}

type activeSpan struct {
	key     models.SpanKey
	startTs int64
	lastTs  int64

	sumZ  float64
	maxZ  float64
	count int64

	startSize   float64
	lastSize    float64
	startBps    float64
	lastBps     float64
	startEnrich models.OutlierEnrichment
	lastEnrich  models.OutlierEnrichment

	tradeBuyQty  float64
	tradeSellQty float64
	tradeCount   int64
}

// Tracker owns the active span set. The tick path (Update) and the trade
// path (OnTrade) are the only writers; one lock serializes them.
type Tracker struct {
	mu           sync.Mutex
	active       map[models.SpanKey]*activeSpan
	store        Appender
	proximityBps float64
	log          *logger.Log
}

func NewTracker(store Appender, proximityBps float64) *Tracker {
	if proximityBps <= 0 {
		proximityBps = 5
	}
	return &Tracker{
		active:       make(map[models.SpanKey]*activeSpan),
		store:        store,
		proximityBps: proximityBps,
		log:          logger.GetLogger(),
	}
}

// Update consumes one tick's candidate set: extends spans whose key
// reappears, opens spans for new keys, and closes every span whose key is
// absent.
func (t *Tracker) Update(ts int64, records []models.OutlierRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[models.SpanKey]struct{}, len(records))
	for _, rec := range records {
		k := models.SpanKey{
			Symbol:   rec.Symbol,
			Market:   rec.Market,
			Exchange: rec.Exchange,
			Side:     rec.Side,
			Price:    rec.Price,
		}
		seen[k] = struct{}{}

		enrich := models.OutlierEnrichment{}
		if rec.Enrichment != nil {
			enrich = *rec.Enrichment
		}

		if a, ok := t.active[k]; ok {
			a.lastTs = rec.Ts
			a.sumZ += rec.ZScore
			a.count++
			if rec.ZScore > a.maxZ {
				a.maxZ = rec.ZScore
			}
			a.lastSize = rec.Size
			a.lastBps = rec.BpsFromMid
			a.lastEnrich = enrich
			continue
		}

		t.active[k] = &activeSpan{
			key:         k,
			startTs:     rec.Ts,
			lastTs:      rec.Ts,
			sumZ:        rec.ZScore,
			maxZ:        rec.ZScore,
			count:       1,
			startSize:   rec.Size,
			lastSize:    rec.Size,
			startBps:    rec.BpsFromMid,
			lastBps:     rec.BpsFromMid,
			startEnrich: enrich,
			lastEnrich:  enrich,
		}
	}

	for k, a := range t.active {
		if _, ok := seen[k]; ok {
			continue
		}
		closed := buildSpan(a, a.lastTs)
		if err := t.store.AppendSpan(closed); err != nil {
			t.log.WithComponent("span_tracker").WithError(err).Fatal("span store write failed")
		}
		delete(t.active, k)
	}

	metrics.ActiveSpans.Set(float64(len(t.active)))
}

// OnTrade credits a print to every active span on the same symbol, market
// and exchange whose price sits within the proximity window of the trade.
func (t *Tracker) OnTrade(tr models.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.active {
		if a.key.Symbol != tr.Symbol || a.key.Market != tr.Market {
			continue
		}
		if !strings.EqualFold(a.key.Exchange, tr.Exchange) {
			continue
		}
		mid := (a.key.Price + tr.Price) / 2
		if mid <= 0 {
			continue
		}
		if math.Abs(a.key.Price-tr.Price)/mid*1e4 > t.proximityBps {
			continue
		}
		if tr.Side == models.TradeSell {
			a.tradeSellQty += tr.Qty
		} else {
			a.tradeBuyQty += tr.Qty
		}
		a.tradeCount++
	}
}

// Active projects the open spans as if they closed now, without mutating
// tracker state.
func (t *Tracker) Active(now int64) []models.OutlierSpan {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.OutlierSpan, 0, len(t.active))
	for _, a := range t.active {
		out = append(out, buildSpan(a, now))
	}
	return out
}

func buildSpan(a *activeSpan, endTs int64) models.OutlierSpan {
	duration := endTs - a.startTs
	if duration < 0 {
		duration = 0
	}

	filledPct := 0.0
	sizeDeltaPct := 0.0
	if a.startSize > 0 {
		filledPct = clamp((a.startSize-a.lastSize)/a.startSize, 0, 1)
		sizeDeltaPct = (a.lastSize - a.startSize) / a.startSize
	}

	count := a.count
	if count < 1 {
		count = 1
	}

	return models.OutlierSpan{
		StartTs:    a.startTs,
		EndTs:      endTs,
		DurationMs: duration,
		Symbol:     a.key.Symbol,
		Market:     a.key.Market,
		Exchange:   a.key.Exchange,
		Side:       a.key.Side,
		Price:      a.key.Price,

		MaxZ:  a.maxZ,
		AvgZ:  a.sumZ / float64(count),
		Count: a.count,

		StartSize: a.startSize,
		EndSize:   a.lastSize,
		FilledPct: filledPct,
		StartBps:  a.startBps,
		EndBps:    a.lastBps,

		StartBook: a.startEnrich.Book,
		EndBook:   a.lastEnrich.Book,

		StartBestBid:    a.startEnrich.BestBid,
		StartBestAsk:    a.startEnrich.BestAsk,
		EndBestBid:      a.lastEnrich.BestBid,
		EndBestAsk:      a.lastEnrich.BestAsk,
		StartSpreadBps:  a.startEnrich.SpreadBps,
		EndSpreadBps:    a.lastEnrich.SpreadBps,
		StartImbalance:  a.startEnrich.Imbalance,
		EndImbalance:    a.lastEnrich.Imbalance,
		StartBidDepth:   a.startEnrich.BidDepth,
		StartAskDepth:   a.startEnrich.AskDepth,
		EndBidDepth:     a.lastEnrich.BidDepth,
		EndAskDepth:     a.lastEnrich.AskDepth,
		StartMicroprice: a.startEnrich.Microprice,
		EndMicroprice:   a.lastEnrich.Microprice,
		StartLevelRank:  a.startEnrich.LevelRank,
		EndLevelRank:    a.lastEnrich.LevelRank,
		StartVol1m:      a.startEnrich.Vol1m,
		StartVol5m:      a.startEnrich.Vol5m,
		EndVol1m:        a.lastEnrich.Vol1m,
		EndVol5m:        a.lastEnrich.Vol5m,

		SizeDelta:    a.lastSize - a.startSize,
		SizeDeltaPct: sizeDeltaPct,

		TradeBuyQty:  a.tradeBuyQty,
		TradeSellQty: a.tradeSellQty,
		TradeCount:   a.tradeCount,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
