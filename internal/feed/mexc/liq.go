package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
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

// LiquidationReader streams forced liquidations from the contract stream.
// If the venue rejects the subscription it falls back to REST polling at a
// fixed cadence.
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
		return fmt.Errorf("mexc liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("mexc_liq_reader").WithFields(logger.Fields{"symbols": r.symbols}).Info("starting mexc liquidation reader")

	r.wg.Add(1)
	go r.runStream()
	return nil
}

func (r *LiquidationReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("mexc_liq_reader").Info("stopping mexc liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("mexc_liq_reader").Info("mexc liquidation reader stopped")
}

func (r *LiquidationReader) runStream() {
	defer r.wg.Done()

	log := r.log.WithComponent("mexc_liq_reader")

	contractSyms := make(map[string]string, len(r.symbols))
	for _, sym := range r.symbols {
		contractSyms[models.ToMexcContract(sym)] = sym
	}

	onConnect := func(conn *websocket.Conn) error {
		for contractSym := range contractSyms {
			if err := conn.WriteJSON(subscribeReq{Method: "sub.liquidate", Param: map[string]any{"symbol": contractSym}}); err != nil {
				return err
			}
		}
		return nil
	}

	handler := func(conn *websocket.Conn, raw []byte) {
		var frame contractFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.WithError(err).Warn("failed to parse contract frame")
			return
		}
		if answerPing(conn, &frame) {
			return
		}
		if frame.Channel == "rs.error" {
			if !r.rejected.Swap(true) {
				log.WithFields(logger.Fields{"data": string(frame.Data)}).Warn("liquidation stream rejected, falling back to REST polling")
				r.wg.Add(1)
				go r.runPoller()
			}
			return
		}
		if frame.Channel != "push.liquidate" || frame.Data == nil {
			return
		}

		contractSym := frame.Symbol
		if contractSym == "" {
			contractSym = channelSymbol(frame.Channel)
		}
		symbol, ok := contractSyms[contractSym]
		if !ok {
			return
		}
		r.emit(symbol, frame.Ts, frame.Data, log)
	}

	feed.RunWebSocket(r.ctx, wsContractURL, 2*time.Second, log, onConnect, handler)
}

// runPoller is the REST fallback path. Poll failures drop the tick.
func (r *LiquidationReader) runPoller() {
	defer r.wg.Done()

	log := r.log.WithComponent("mexc_liq_poller")
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
	url := fmt.Sprintf("%s/liquidation?symbol=%s", restContractURL, models.ToMexcContract(symbol))
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
		Data []contractLiquidation `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return
	}
	data, err := json.Marshal(wrapper.Data)
	if err != nil {
		return
	}
	r.emit(symbol, time.Now().UnixMilli(), data, log)
}

// emit normalizes one event or a batch; the stream pushes single objects,
// the REST fallback returns arrays.
func (r *LiquidationReader) emit(symbol string, ts int64, data json.RawMessage, log *logger.Entry) {
	var events []contractLiquidation
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		if err := json.Unmarshal(data, &events); err != nil {
			log.WithError(err).Warn("failed to parse liquidation payload")
			return
		}
	} else {
		var one contractLiquidation
		if err := json.Unmarshal(data, &one); err != nil {
			log.WithError(err).Warn("failed to parse liquidation payload")
			return
		}
		events = append(events, one)
	}

	for _, e := range events {
		if e.Price <= 0 || e.Qty <= 0 {
			continue
		}
		side := models.TradeBuy
		if e.Taker == 2 {
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
			Exchange: models.ExchangeMexc,
			Side:     side,
			Price:    e.Price,
			Qty:      e.Qty,
		})
		logger.IncrementLiquidation()
		metrics.FeedMessages.WithLabelValues("mexc_liquidations").Inc()
	}
}
