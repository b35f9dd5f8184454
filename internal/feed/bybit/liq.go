package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/config"
	"depthwatch/internal/feed"
	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

const liqPollInterval = 5 * time.Second

// LiquidationReader streams forced liquidations from the linear market.
// If the venue rejects the stream subscription it falls back to REST
// polling at a fixed cadence.
type LiquidationReader struct {
	config   *config.Config
	sinks    *feed.Sinks
	client   *http.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	rejected atomic.Bool
	warned   atomic.Bool
}

func NewLiquidationReader(cfg *config.Config, sinks *feed.Sinks) *LiquidationReader {
	return &LiquidationReader{
		config:  cfg,
		sinks:   sinks,
		client:  &http.Client{Timeout: 10 * time.Second},
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		symbols: cfg.Monitor.Symbols,
	}
}

func (r *LiquidationReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{"symbols": r.symbols}).Info("starting bybit liquidation reader")

	r.wg.Add(1)
	go r.runStream()
	return nil
}

func (r *LiquidationReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_liq_reader").Info("stopping bybit liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_liq_reader").Info("bybit liquidation reader stopped")
}

func (r *LiquidationReader) runStream() {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_liq_reader")

	topics := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, "allLiquidation."+sym)
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
			log.WithError(err).Warn("failed to parse liquidation frame")
			return
		}
		if env.Op != "" {
			if env.Success != nil && !*env.Success && !r.rejected.Swap(true) {
				log.WithFields(logger.Fields{"ret_msg": env.RetMsg}).Warn("liquidation stream rejected, falling back to REST polling")
				r.wg.Add(1)
				go r.runPoller()
			}
			return
		}
		if env.Data == nil {
			return
		}
		r.emit(env.Ts, env.Topic, env.Data, log)
	}

	feed.RunWebSocket(r.ctx, wsLinearURL, defaultReconnectDelay(), log, onConnect, handler)
}

// runPoller is the REST fallback path. Poll failures drop the tick.
func (r *LiquidationReader) runPoller() {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_liq_poller")
	ticker := time.NewTicker(liqPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range r.symbols {
				r.pollSymbol(sym, log)
			}
		}
	}
}

func (r *LiquidationReader) pollSymbol(symbol string, log *logger.Entry) {
	url := fmt.Sprintf("%s/v5/market/liquidation?category=linear&symbol=%s", restBaseURL, symbol)
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Debug("liquidation poll failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if !r.warned.Swap(true) {
			log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("liquidation poll endpoint unavailable")
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	var wrapper struct {
		Result struct {
			List []tradePayload `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return
	}
	data, err := json.Marshal(wrapper.Result.List)
	if err != nil {
		return
	}
	r.emit(time.Now().UnixMilli(), "allLiquidation."+symbol, data, log)
}

func (r *LiquidationReader) emit(ts int64, topic string, data json.RawMessage, log *logger.Entry) {
	var events []tradePayload
	if err := json.Unmarshal(data, &events); err != nil {
		log.WithError(err).Warn("failed to parse liquidation payload")
		return
	}
	for _, e := range events {
		price, okP := parseFloat(e.Price)
		qty, okQ := parseFloat(e.Qty)
		if !okP || !okQ {
			continue
		}
		symbol := e.Symbol
		if symbol == "" {
			symbol = topicSymbol(topic)
		}
		side := models.TradeBuy
		if e.Side == "Sell" {
			side = models.TradeSell
		}
		eventTs := e.Ts
		if eventTs == 0 {
			eventTs = ts
		}
		r.sinks.Liquidation(models.Liquidation{
			Ts:       eventTs,
			Symbol:   symbol,
			Market:   models.MarketPerp,
			Exchange: models.ExchangeBybit,
			Side:     side,
			Price:    price,
			Qty:      qty,
		})
		logger.IncrementLiquidation()
		metrics.FeedMessages.WithLabelValues("bybit_liquidations").Inc()
	}
}
