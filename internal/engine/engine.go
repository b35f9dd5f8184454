package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"depthwatch/config"
	"depthwatch/internal/book"
	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// Broadcaster fans a typed payload out to websocket subscribers.
type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

// SpanTracker receives each tick's outlier candidates.
type SpanTracker interface {
	Update(ts int64, records []models.OutlierRecord)
}

// Persistence is the slice of the store layer the tick loop writes to.
type Persistence interface {
	AppendMetrics(models.MetricsPoint) error
	AppendOutliers([]models.OutlierRecord) error
	AppendLargeMoves([]models.LevelMove) error
}

type wsMessage struct {
	msgType string
	data    interface{}
}

// Engine drives the metrics tick: it pulls venue books, merges and scores
// them, runs outlier detection and persists and broadcasts the results.
// The tick loop is the single reader of every book and the single writer
// of the span tracker's tick path.
type Engine struct {
	config      *config.Config
	registry    *book.Registry
	history     *MidHistory
	tracker     SpanTracker
	persistence Persistence
	broadcaster Broadcaster
	prevPerp    map[string]*models.BookSnapshot
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
}

func NewEngine(cfg *config.Config, registry *book.Registry, tracker SpanTracker, persistence Persistence, broadcaster Broadcaster) *Engine {
	return &Engine{
		config:      cfg,
		registry:    registry,
		history:     NewMidHistory(time.Duration(cfg.Monitor.MidHistoryRetentionSec) * time.Second),
		tracker:     tracker,
		persistence: persistence,
		broadcaster: broadcaster,
		prevPerp:    make(map[string]*models.BookSnapshot),
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("metrics engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	e.log.WithComponent("metrics_engine").WithFields(logger.Fields{
		"symbols":     e.config.Monitor.Symbols,
		"interval_ms": e.config.Monitor.MetricsIntervalMs,
	}).Info("starting metrics engine")

	e.wg.Add(1)
	go e.runLoop()
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("metrics_engine").Info("stopping metrics engine")
	e.wg.Wait()
	e.log.WithComponent("metrics_engine").Info("metrics engine stopped")
}

func (e *Engine) runLoop() {
	defer e.wg.Done()

	interval := time.Duration(e.config.Monitor.MetricsIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick runs one full evaluation pass. Per-symbol computation and
// persistence complete first, then the span tracker sees the tick's full
// candidate set, and only then does anything reach subscribers.
func (e *Engine) tick(now time.Time) {
	started := time.Now()
	ts := now.UnixMilli()

	var candidates []models.OutlierRecord
	var messages []wsMessage

	for _, symbol := range e.config.Monitor.Symbols {
		recs, msgs := e.tickSymbol(ts, symbol)
		candidates = append(candidates, recs...)
		messages = append(messages, msgs...)
	}

	e.tracker.Update(ts, candidates)

	for _, msg := range messages {
		e.broadcaster.Broadcast(msg.msgType, msg.data)
	}

	metrics.TickDuration.Observe(time.Since(started).Seconds())
}

func (e *Engine) tickSymbol(ts int64, symbol string) ([]models.OutlierRecord, []wsMessage) {
	cfg := e.config.Monitor

	bybitSpot := e.snapshot(models.ExchangeBybit, models.MarketSpot, symbol)
	mexcSpot := e.snapshot(models.ExchangeMexc, models.MarketSpot, symbol)
	bybitPerp := e.snapshot(models.ExchangeBybit, models.MarketPerp, symbol)
	mexcPerp := e.snapshot(models.ExchangeMexc, models.MarketPerp, symbol)

	// Mid history first so this tick's vol enrichment sees this tick's mid.
	var candidates []models.OutlierRecord
	for _, snap := range []*models.BookSnapshot{bybitSpot, mexcSpot, bybitPerp, mexcPerp} {
		if snap == nil {
			continue
		}
		e.history.Append(snap.Exchange, snap.Market, snap.Symbol, ts, snap.Mid())
		candidates = append(candidates, detectOutliers(snap, ts, cfg.OutlierZ, e.history)...)
	}

	if len(candidates) > 0 {
		if err := e.persistence.AppendOutliers(candidates); err != nil {
			e.log.WithComponent("metrics_engine").WithError(err).Fatal("outlier store write failed")
		}
	}

	var messages []wsMessage

	// Spot path: aggregated book for the dashboard.
	if mergedSpot := book.Merge(cfg.Depth, bybitSpot, mexcSpot); mergedSpot != nil {
		messages = append(messages, wsMessage{
			msgType: "book",
			data: map[string]interface{}{
				"symbol": symbol,
				"mid":    mergedSpot.Mid(),
				"bids":   mergedSpot.Bids,
				"asks":   mergedSpot.Asks,
				"depth":  cfg.Depth,
				"sources": map[string]bool{
					models.ExchangeBybit: bybitSpot != nil,
					models.ExchangeMexc:  mexcSpot != nil,
				},
			},
		})
	}
	// Spot trackers reset on the same cadence as perp so churn windows
	// stay tick-aligned; spot churn has no aggregated consumer.
	e.resetMoves(models.ExchangeBybit, models.MarketSpot, symbol)
	e.resetMoves(models.ExchangeMexc, models.MarketSpot, symbol)

	// Perp path: per-venue metrics, aggregated point, large moves.
	exchanges := make(map[string]*models.ExchangeMetrics)
	var mergedMoves models.SideMoveStats
	for _, snap := range []*models.BookSnapshot{bybitPerp, mexcPerp} {
		if snap == nil {
			continue
		}
		if em := buildExchangeMetrics(snap, cfg.DistanceBinsBps, cfg.MetricsOutlierZ); em != nil {
			exchanges[snap.Exchange] = em
		}
		mergedMoves.Add(e.resetMoves(snap.Exchange, models.MarketPerp, symbol))
	}

	mergedPerp := book.Merge(cfg.Depth, bybitPerp, mexcPerp)

	var moves []models.LevelMove
	if mergedPerp != nil {
		moves = detectLargeMoves(ts, symbol, e.prevPerp[symbol], mergedPerp, mergedPerp.Mid(), cfg.BaseMmNotional, cfg.LargeMoveWindowBps, cfg.LargeMoveNotionalFloor)
		e.prevPerp[symbol] = mergedPerp
	}
	if len(moves) > 0 {
		if err := e.persistence.AppendLargeMoves(moves); err != nil {
			e.log.WithComponent("metrics_engine").WithError(err).Fatal("large-move store write failed")
		}
	}

	point := buildMetricsPoint(pointParams{
		ts:           ts,
		symbol:       symbol,
		depth:        cfg.Depth,
		baseNotional: cfg.BaseMmNotional,
		bins:         cfg.DistanceBinsBps,
		zMetrics:     cfg.MetricsOutlierZ,
	}, mergedPerp, mergedMoves, exchanges)

	if point != nil {
		if err := e.persistence.AppendMetrics(*point); err != nil {
			e.log.WithComponent("metrics_engine").WithError(err).Fatal("metrics store write failed")
		}
		messages = append(messages, wsMessage{msgType: "metrics", data: point})
		messages = append(messages, wsMessage{
			msgType: "perpBook",
			data: map[string]interface{}{
				"symbol": symbol,
				"mid":    mergedPerp.Mid(),
				"bids":   mergedPerp.Bids,
				"asks":   mergedPerp.Asks,
				"depth":  cfg.Depth,
				"largeMoves": map[string]interface{}{
					"bid": topMoves(moves, models.SideBid, 8),
					"ask": topMoves(moves, models.SideAsk, 8),
				},
				"sources": map[string]bool{
					models.ExchangeBybit: bybitPerp != nil,
					models.ExchangeMexc:  mexcPerp != nil,
				},
			},
		})
	}

	return candidates, messages
}

func (e *Engine) snapshot(exchange, market, symbol string) *models.BookSnapshot {
	b := e.registry.Lookup(exchange, market, symbol)
	if b == nil {
		return nil
	}
	snap, ok := b.Snapshot(e.config.Monitor.Depth)
	if !ok {
		return nil
	}
	return &snap
}

func (e *Engine) resetMoves(exchange, market, symbol string) models.SideMoveStats {
	b := e.registry.Lookup(exchange, market, symbol)
	if b == nil {
		return models.SideMoveStats{}
	}
	return b.SnapshotResetMoves()
}
