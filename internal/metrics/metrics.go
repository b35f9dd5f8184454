// Package metrics exposes the process's prometheus collectors. Everything
// registers on the default registry and is served by the HTTP server at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthwatch_feed_messages_total",
		Help: "Messages accepted per feed.",
	}, []string{"feed"})

	FeedDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthwatch_feed_drops_total",
		Help: "Messages or poll ticks dropped per feed.",
	}, []string{"feed"})

	StoreAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthwatch_store_appends_total",
		Help: "Rows appended per store.",
	}, []string{"store"})

	StorePrunedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthwatch_store_pruned_rows_total",
		Help: "Rows dropped by retention pruning per store.",
	}, []string{"store"})

	BroadcastMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depthwatch_broadcast_messages_total",
		Help: "Messages fanned out to websocket subscribers.",
	})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depthwatch_ws_clients",
		Help: "Connected websocket subscribers.",
	})

	ActiveSpans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depthwatch_active_spans",
		Help: "Outlier spans currently open.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "depthwatch_tick_duration_seconds",
		Help:    "Wall time of one metrics tick.",
		Buckets: prometheus.DefBuckets,
	})
)
