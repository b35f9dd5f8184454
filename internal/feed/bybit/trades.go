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

// TradeReader streams public prints for both markets and hands normalized
// trades to the sinks.
type TradeReader struct {
	config  *config.Config
	sinks   *feed.Sinks
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	symbols []string
}

func NewTradeReader(cfg *config.Config, sinks *feed.Sinks) *TradeReader {
	return &TradeReader{
		config:  cfg,
		sinks:   sinks,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		symbols: cfg.Monitor.Symbols,
	}
}

func (r *TradeReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit trade reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("bybit_trade_reader").WithFields(logger.Fields{"symbols": r.symbols}).Info("starting bybit trade reader")

	markets := map[string]string{
		models.MarketSpot: wsSpotURL,
		models.MarketPerp: wsLinearURL,
	}
	for market, url := range markets {
		r.wg.Add(1)
		go r.runMarket(market, url)
	}
	return nil
}

func (r *TradeReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_trade_reader").Info("stopping bybit trade reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_trade_reader").Info("bybit trade reader stopped")
}

func (r *TradeReader) runMarket(market, url string) {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_trade_reader").WithFields(logger.Fields{"market": market})

	topics := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, "publicTrade."+sym)
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
			log.WithError(err).Warn("failed to parse trade frame")
			return
		}
		if env.Op != "" || env.Data == nil {
			return
		}

		var prints []tradePayload
		if err := json.Unmarshal(env.Data, &prints); err != nil {
			log.WithError(err).Warn("failed to parse trade payload")
			return
		}

		for _, p := range prints {
			price, okP := parseFloat(p.Price)
			qty, okQ := parseFloat(p.Qty)
			if !okP || !okQ {
				continue
			}
			symbol := p.Symbol
			if symbol == "" {
				symbol = topicSymbol(env.Topic)
			}
			side := models.TradeBuy
			if p.Side == "Sell" {
				side = models.TradeSell
			}
			ts := p.Ts
			if ts == 0 {
				ts = env.Ts
			}
			r.sinks.Trade(models.Trade{
				Ts:       ts,
				Symbol:   symbol,
				Market:   market,
				Exchange: models.ExchangeBybit,
				Side:     side,
				Price:    price,
				Qty:      qty,
			})
			logger.IncrementTrade()
			metrics.FeedMessages.WithLabelValues("bybit_trades").Inc()
		}
	}

	feed.RunWebSocket(r.ctx, url, defaultReconnectDelay(), log, onConnect, handler)
}
