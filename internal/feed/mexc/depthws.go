package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/config"
	"depthwatch/internal/book"
	"depthwatch/internal/feed"
	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// DepthReader subscribes to full depth snapshots on the contract stream
// and diff-applies them against the perp books. The venue only serves
// depths of 5, 10 or 20; other requests snap to the closest one.
type DepthReader struct {
	config   *config.Config
	registry *book.Registry
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	depth    int
}

func NewDepthReader(cfg *config.Config, registry *book.Registry) *DepthReader {
	depth := negotiateDepth(cfg.Monitor.Depth)
	r := &DepthReader{
		config:   cfg,
		registry: registry,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  cfg.Monitor.Symbols,
		depth:    depth,
	}
	if depth != cfg.Monitor.Depth {
		r.log.WithComponent("mexc_depth_reader").WithFields(logger.Fields{
			"requested": cfg.Monitor.Depth,
			"using":     depth,
		}).Info("snapping to supported full-depth limit")
	}
	return r
}

func (r *DepthReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("mexc depth reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("mexc_depth_reader").WithFields(logger.Fields{
		"symbols": r.symbols,
		"depth":   r.depth,
	}).Info("starting mexc depth reader")

	r.wg.Add(1)
	go r.runStream()
	return nil
}

func (r *DepthReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("mexc_depth_reader").Info("stopping mexc depth reader")
	r.wg.Wait()
	r.log.WithComponent("mexc_depth_reader").Info("mexc depth reader stopped")
}

func (r *DepthReader) runStream() {
	defer r.wg.Done()

	log := r.log.WithComponent("mexc_depth_reader")

	books := make(map[string]*book.Book, len(r.symbols))
	for _, sym := range r.symbols {
		books[models.ToMexcContract(sym)] = r.registry.Obtain(models.ExchangeMexc, models.MarketPerp, sym)
	}

	onConnect := func(conn *websocket.Conn) error {
		for contractSym := range books {
			req := subscribeReq{
				Method: "sub.depth.full",
				Param:  map[string]any{"symbol": contractSym, "limit": r.depth},
			}
			if err := conn.WriteJSON(req); err != nil {
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

		if answered := answerPing(conn, &frame); answered {
			return
		}
		if frame.Channel != "push.depth.full" || frame.Data == nil {
			return
		}

		var depth contractDepth
		if err := json.Unmarshal(frame.Data, &depth); err != nil {
			log.WithError(err).Warn("failed to parse depth payload")
			return
		}

		contractSym := frame.Symbol
		if contractSym == "" {
			contractSym = channelSymbol(frame.Channel)
		}
		b, ok := books[contractSym]
		if !ok {
			return
		}

		ts := frame.Ts
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		b.ApplySnapshot(ts, parseContractLevels(depth.Bids), parseContractLevels(depth.Asks))
		logger.IncrementBookUpdate()
		metrics.FeedMessages.WithLabelValues("mexc_depth").Inc()
	}

	feed.RunWebSocket(r.ctx, wsContractURL, 2*time.Second, log, onConnect, handler)
}

// answerPing echoes the venue's keepalive frames: method-style pings get a
// symmetric pong, bare {ping: ts} frames get {pong: ts}.
func answerPing(conn *websocket.Conn, frame *contractFrame) bool {
	switch {
	case frame.Method == "ping":
		_ = conn.WriteJSON(map[string]string{"method": "pong"})
		return true
	case frame.Ping != nil:
		_ = conn.WriteJSON(map[string]int64{"pong": *frame.Ping})
		return true
	}
	return false
}
