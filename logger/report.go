package logger

import (
	"context"
	"sync/atomic"
	"time"
)

// Flow counters reported by the periodic console report. Feeds and stores
// bump these on their hot paths; the report loop snapshots and logs them.
var (
	bookUpdates    int64
	tradeEvents    int64
	liqEvents      int64
	oiFundingTicks int64
	storeAppends   int64
	storePrunes    int64
	wsClients      int64
	feedReconnects int64
)

func IncrementBookUpdate()  { atomic.AddInt64(&bookUpdates, 1) }
func IncrementTrade()       { atomic.AddInt64(&tradeEvents, 1) }
func IncrementLiquidation() { atomic.AddInt64(&liqEvents, 1) }
func IncrementOiFunding()   { atomic.AddInt64(&oiFundingTicks, 1) }
func IncrementStoreAppend() { atomic.AddInt64(&storeAppends, 1) }
func IncrementStorePrune()  { atomic.AddInt64(&storePrunes, 1) }
func IncrementReconnect()   { atomic.AddInt64(&feedReconnects, 1) }

func SetWSClients(n int) { atomic.StoreInt64(&wsClients, int64(n)) }

// StartReport begins periodic logging of flow statistics. Counters are
// cumulative since process start.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	log.WithComponent("report").WithFields(Fields{
		"book_updates":     atomic.LoadInt64(&bookUpdates),
		"trades":           atomic.LoadInt64(&tradeEvents),
		"liquidations":     atomic.LoadInt64(&liqEvents),
		"oi_funding_ticks": atomic.LoadInt64(&oiFundingTicks),
		"store_appends":    atomic.LoadInt64(&storeAppends),
		"store_prunes":     atomic.LoadInt64(&storePrunes),
		"ws_clients":       atomic.LoadInt64(&wsClients),
		"feed_reconnects":  atomic.LoadInt64(&feedReconnects),
	}).Info("flow report")
}
