package bybit

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

// DepthReader maintains Bybit spot and perp books from the incremental
// orderbook stream. One websocket per market carries every symbol.
type DepthReader struct {
	config   *config.Config
	registry *book.Registry
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

func NewDepthReader(cfg *config.Config, registry *book.Registry) *DepthReader {
	return &DepthReader{
		config:   cfg,
		registry: registry,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  cfg.Monitor.Symbols,
	}
}

// Start opens one stream per market and subscribes all configured symbols.
func (r *DepthReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit depth reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("bybit_depth_reader")

	depth := negotiateDepth(models.MarketSpot, r.config.Monitor.Depth)
	if depth != r.config.Monitor.Depth {
		log.WithFields(logger.Fields{"requested": r.config.Monitor.Depth, "using": depth}).Info("snapping to supported depth")
	}

	log.WithFields(logger.Fields{"symbols": r.symbols, "depth": depth}).Info("starting bybit depth reader")

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

// Stop waits for the stream loops to exit. Cancel the Start context first.
func (r *DepthReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_depth_reader").Info("stopping bybit depth reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_depth_reader").Info("bybit depth reader stopped")
}

func (r *DepthReader) runMarket(market, url string) {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_depth_reader").WithFields(logger.Fields{"market": market})
	depth := negotiateDepth(market, r.config.Monitor.Depth)

	topics := make([]string, 0, len(r.symbols))
	books := make(map[string]*book.Book, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, fmt.Sprintf("orderbook.%d.%s", depth, sym))
		books[sym] = r.registry.Obtain(models.ExchangeBybit, market, sym)
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
			log.WithError(err).Warn("failed to parse depth frame")
			return
		}
		if env.Op != "" {
			if env.Success != nil && !*env.Success {
				log.WithFields(logger.Fields{"op": env.Op, "ret_msg": env.RetMsg}).Warn("subscription rejected")
			}
			return
		}
		if env.Data == nil {
			return
		}

		var payload depthPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.WithError(err).Warn("failed to parse depth payload")
			return
		}

		symbol := payload.Symbol
		if symbol == "" {
			symbol = topicSymbol(env.Topic)
		}
		b, ok := books[symbol]
		if !ok {
			return
		}

		ts := env.Ts
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		if env.Type == "snapshot" {
			// Fresh full book after (re)connect.
			b.Reset()
		}
		b.ApplyDelta(ts, parseLevels(payload.Bids), parseLevels(payload.Asks))
		logger.IncrementBookUpdate()
		metrics.FeedMessages.WithLabelValues("bybit_depth").Inc()
	}

	feed.RunWebSocket(r.ctx, url, defaultReconnectDelay(), log, onConnect, handler)
}

func defaultReconnectDelay() time.Duration { return 2 * time.Second }
