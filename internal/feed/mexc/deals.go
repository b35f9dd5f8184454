package mexc

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

// DealReader streams perp prints and funding ticks from the contract
// stream and pushes normalized events to the sinks.
type DealReader struct {
	config  *config.Config
	sinks   *feed.Sinks
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	symbols []string
}

func NewDealReader(cfg *config.Config, sinks *feed.Sinks) *DealReader {
	return &DealReader{
		config:  cfg,
		sinks:   sinks,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		symbols: cfg.Monitor.Symbols,
	}
}

func (r *DealReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("mexc deal reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("mexc_deal_reader").WithFields(logger.Fields{"symbols": r.symbols}).Info("starting mexc deal reader")

	r.wg.Add(1)
	go r.runStream()
	return nil
}

func (r *DealReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("mexc_deal_reader").Info("stopping mexc deal reader")
	r.wg.Wait()
	r.log.WithComponent("mexc_deal_reader").Info("mexc deal reader stopped")
}

func (r *DealReader) runStream() {
	defer r.wg.Done()

	log := r.log.WithComponent("mexc_deal_reader")

	contractSyms := make(map[string]string, len(r.symbols))
	for _, sym := range r.symbols {
		contractSyms[models.ToMexcContract(sym)] = sym
	}

	onConnect := func(conn *websocket.Conn) error {
		for contractSym := range contractSyms {
			if err := conn.WriteJSON(subscribeReq{Method: "sub.deal", Param: map[string]any{"symbol": contractSym}}); err != nil {
				return err
			}
			if err := conn.WriteJSON(subscribeReq{Method: "sub.funding.rate", Param: map[string]any{"symbol": contractSym}}); err != nil {
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
		if answerPing(conn, &frame) || frame.Data == nil {
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

		switch frame.Channel {
		case "push.deal":
			r.handleDeal(symbol, frame, log)
		case "push.funding.rate":
			r.handleFunding(symbol, frame, log)
		}
	}

	feed.RunWebSocket(r.ctx, wsContractURL, 2*time.Second, log, onConnect, handler)
}

func (r *DealReader) handleDeal(symbol string, frame contractFrame, log *logger.Entry) {
	var deal contractDeal
	if err := json.Unmarshal(frame.Data, &deal); err != nil {
		log.WithError(err).Warn("failed to parse deal payload")
		return
	}
	if deal.Price <= 0 || deal.Qty <= 0 {
		return
	}

	side := models.TradeBuy
	if deal.Taker == 2 {
		side = models.TradeSell
	}
	ts := deal.Ts
	if ts == 0 {
		ts = frame.Ts
	}
	r.sinks.Trade(models.Trade{
		Ts:       ts,
		Symbol:   symbol,
		Market:   models.MarketPerp,
		Exchange: models.ExchangeMexc,
		Side:     side,
		Price:    deal.Price,
		Qty:      deal.Qty,
	})
	logger.IncrementTrade()
	metrics.FeedMessages.WithLabelValues("mexc_deals").Inc()
}

func (r *DealReader) handleFunding(symbol string, frame contractFrame, log *logger.Entry) {
	var funding contractFunding
	if err := json.Unmarshal(frame.Data, &funding); err != nil {
		log.WithError(err).Warn("failed to parse funding payload")
		return
	}

	ts := frame.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	r.sinks.OiFundingTick(models.OiFunding{
		Ts:            ts,
		Symbol:        symbol,
		Exchange:      models.ExchangeMexc,
		FundingRate:   funding.Rate,
		NextFundingTs: funding.NextSettle,
	})
	logger.IncrementOiFunding()
	metrics.FeedMessages.WithLabelValues("mexc_funding").Inc()
}
