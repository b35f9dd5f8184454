package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/config"
	"depthwatch/internal/feed"
	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// TickerReader streams open interest and funding from the linear tickers
// channel. Ticker deltas omit unchanged fields, so the reader keeps the
// last full observation per symbol and patches it.
type TickerReader struct {
	config  *config.Config
	sinks   *feed.Sinks
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	symbols []string
	last    map[string]models.OiFunding
}

func NewTickerReader(cfg *config.Config, sinks *feed.Sinks) *TickerReader {
	return &TickerReader{
		config:  cfg,
		sinks:   sinks,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		symbols: cfg.Monitor.Symbols,
		last:    make(map[string]models.OiFunding),
	}
}

func (r *TickerReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit ticker reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("bybit_ticker_reader").WithFields(logger.Fields{"symbols": r.symbols}).Info("starting bybit ticker reader")

	r.wg.Add(1)
	go r.runStream()
	return nil
}

func (r *TickerReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_ticker_reader").Info("stopping bybit ticker reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_ticker_reader").Info("bybit ticker reader stopped")
}

func (r *TickerReader) runStream() {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_ticker_reader")

	topics := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, "tickers."+sym)
	}

	onConnect := func(conn *websocket.Conn) error {
		return conn.WriteJSON(subscribeReq{
			Op:    "subscribe",
			Args:  topics,
			ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	}

	handler := func(conn *websocket.Conn, raw []byte) {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.WithError(err).Warn("failed to parse ticker frame")
			return
		}
		if env.Op != "" || env.Data == nil {
			return
		}

		var payload tickerPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.WithError(err).Warn("failed to parse ticker payload")
			return
		}

		symbol := payload.Symbol
		if symbol == "" {
			symbol = topicSymbol(env.Topic)
		}
		if symbol == "" {
			return
		}

		r.mu.Lock()
		obs := r.last[symbol]
		obs.Symbol = symbol
		obs.Exchange = models.ExchangeBybit
		obs.Ts = env.Ts
		if obs.Ts == 0 {
			obs.Ts = time.Now().UnixMilli()
		}
		if v, ok := parseFloat(payload.OpenInterest); ok {
			obs.OpenInterest = v
		}
		if v, ok := parseFloat(payload.OpenInterestValue); ok {
			obs.OpenInterestVal = v
		}
		if v, ok := parseFloat(payload.FundingRate); ok {
			obs.FundingRate = v
		}
		if v, ok := parseInt(payload.NextFundingTime); ok {
			obs.NextFundingTs = v
		}
		r.last[symbol] = obs
		r.mu.Unlock()

		r.sinks.OiFundingTick(obs)
		logger.IncrementOiFunding()
		metrics.FeedMessages.WithLabelValues("bybit_tickers").Inc()
	}

	feed.RunWebSocket(r.ctx, wsLinearURL, defaultReconnectDelay(), log, onConnect, handler)
}
