package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"depthwatch/config"
	"depthwatch/internal/book"
	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// DepthPoller maintains the Mexc spot books by polling the REST depth
// endpoint. Transient HTTP failures drop the tick; a run of failures trips
// the breaker and the poller stays quiet until it half-opens.
type DepthPoller struct {
	config   *config.Config
	registry *book.Registry
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	interval time.Duration
}

func NewDepthPoller(cfg *config.Config, registry *book.Registry) *DepthPoller {
	interval := time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond
	if interval < time.Second {
		interval = time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mexc_spot_depth",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	// One burst per symbol so a tick can cover the whole set without
	// queueing against the venue's public rate limit.
	limiter := rate.NewLimiter(rate.Limit(float64(len(cfg.Monitor.Symbols))/interval.Seconds()), len(cfg.Monitor.Symbols))

	return &DepthPoller{
		config:   cfg,
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  breaker,
		limiter:  limiter,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  cfg.Monitor.Symbols,
		interval: interval,
	}
}

func (p *DepthPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("mexc depth poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("mexc_depth_poller").WithFields(logger.Fields{
		"symbols":  p.symbols,
		"interval": p.interval,
	}).Info("starting mexc depth poller")

	for _, sym := range p.symbols {
		p.wg.Add(1)
		go p.pollWorker(sym)
	}
	return nil
}

func (p *DepthPoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("mexc_depth_poller").Info("stopping mexc depth poller")
	p.wg.Wait()
	p.log.WithComponent("mexc_depth_poller").Info("mexc depth poller stopped")
}

func (p *DepthPoller) pollWorker(symbol string) {
	defer p.wg.Done()

	log := p.log.WithComponent("mexc_depth_poller").WithFields(logger.Fields{"symbol": symbol})
	b := p.registry.Obtain(models.ExchangeMexc, models.MarketSpot, symbol)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(symbol, b, log)
		}
	}
}

func (p *DepthPoller) pollOnce(symbol string, b *book.Book, log *logger.Entry) {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		depth, err := p.fetchDepth(symbol)
		if err != nil {
			return nil, err
		}
		b.ApplySnapshot(time.Now().UnixMilli(), parseSpotLevels(depth.Bids), parseSpotLevels(depth.Asks))
		logger.IncrementBookUpdate()
		metrics.FeedMessages.WithLabelValues("mexc_spot_poll").Inc()
		return nil, nil
	})
	if err != nil {
		// Dropped tick. The book keeps its last state.
		log.WithError(err).Debug("depth poll dropped")
		metrics.FeedDrops.WithLabelValues("mexc_spot_poll").Inc()
	}
}

func (p *DepthPoller) fetchDepth(symbol string) (*spotDepth, error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", restSpotURL, symbol, p.config.Monitor.Depth)
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("depth request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var depth spotDepth
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("failed to parse depth body: %w", err)
	}
	return &depth, nil
}

func parseSpotLevels(raw [][]string) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		out = append(out, models.BookLevel{Price: price, Size: size})
	}
	return out
}
