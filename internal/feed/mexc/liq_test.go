package mexc

import (
	"encoding/json"
	"testing"

	"depthwatch/config"
	"depthwatch/internal/feed"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

func liqReader(t *testing.T) (*LiquidationReader, *[]models.Liquidation) {
	t.Helper()
	var got []models.Liquidation
	sinks := &feed.Sinks{
		OnLiquidation: func(l models.Liquidation) { got = append(got, l) },
	}
	cfg := &config.Config{Monitor: config.MonitorConfig{Symbols: []string{"BTCUSDT"}}}
	return NewLiquidationReader(cfg, sinks), &got
}

func TestLiquidationEmitSingleObject(t *testing.T) {
	r, got := liqReader(t)
	log := logger.GetLogger().WithComponent("test")

	data := json.RawMessage(`{"p":100.5,"v":3,"T":2,"t":1700000000000}`)
	r.emit("BTCUSDT", 42, data, log)

	if len(*got) != 1 {
		t.Fatalf("emitted %d liquidations, want 1", len(*got))
	}
	l := (*got)[0]
	if l.Exchange != models.ExchangeMexc || l.Market != models.MarketPerp {
		t.Fatalf("wrong routing: %+v", l)
	}
	if l.Side != models.TradeSell || l.Price != 100.5 || l.Qty != 3 || l.Ts != 1700000000000 {
		t.Fatalf("wrong fields: %+v", l)
	}
}

func TestLiquidationEmitArrayFallsBackToFrameTs(t *testing.T) {
	r, got := liqReader(t)
	log := logger.GetLogger().WithComponent("test")

	data := json.RawMessage(`[{"p":99,"v":1,"T":1},{"p":0,"v":1,"T":1}]`)
	r.emit("BTCUSDT", 42, data, log)

	if len(*got) != 1 {
		t.Fatalf("zero-price event must be dropped, got %d", len(*got))
	}
	l := (*got)[0]
	if l.Ts != 42 || l.Side != models.TradeBuy {
		t.Fatalf("frame ts fallback wrong: %+v", l)
	}
}

func TestLiquidationDoubleStartGuard(t *testing.T) {
	r, _ := liqReader(t)
	// Flag the reader as running without touching the network.
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	if err := r.Start(nil); err == nil {
		t.Fatal("expected error on double start")
	}
}
