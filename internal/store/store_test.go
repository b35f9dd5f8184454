package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"depthwatch/config"
	"depthwatch/internal/models"
)

func openTestStores(t *testing.T) *Stores {
	t.Helper()
	s, err := Open(config.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func metricsPoint(ts int64, symbol string) models.MetricsPoint {
	return models.MetricsPoint{Ts: ts, Symbol: symbol, BestBid: 99, BestAsk: 101, Mid: 100}
}

func TestMetricsAppendAndHistoryOrder(t *testing.T) {
	s := openTestStores(t)
	now := time.Now().UnixMilli()

	for i := 0; i < 5; i++ {
		if err := s.Metrics.Append(metricsPoint(now+int64(i), "BTCUSDT")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := s.Metrics.History(10, "")
	if len(got) != 5 {
		t.Fatalf("history length = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Ts < got[i-1].Ts {
			t.Fatal("history not in insertion order")
		}
	}

	if tail := s.Metrics.History(2, ""); len(tail) != 2 || tail[1].Ts != now+4 {
		t.Fatalf("tail wrong: %+v", tail)
	}
}

func TestMetricsHistorySymbolFilter(t *testing.T) {
	s := openTestStores(t)
	now := time.Now().UnixMilli()

	s.Metrics.Append(metricsPoint(now, "BTCUSDT"))
	s.Metrics.Append(metricsPoint(now+1, "ETHUSDT"))

	if got := s.Metrics.History(10, "ETHUSDT"); len(got) != 1 || got[0].Symbol != "ETHUSDT" {
		t.Fatalf("symbol filter wrong: %+v", got)
	}
}

func TestRetentionPrune(t *testing.T) {
	s := openTestStores(t)
	now := time.Now().UnixMilli()

	stale := now - 25*time.Hour.Milliseconds()
	fresh := now - 23*time.Hour.Milliseconds()

	s.Metrics.Append(metricsPoint(stale, "BTCUSDT"))
	s.Metrics.Append(metricsPoint(fresh, "BTCUSDT"))
	s.Metrics.Append(metricsPoint(now, "BTCUSDT"))

	got := s.Metrics.History(10, "")
	if len(got) != 2 {
		t.Fatalf("expected stale row pruned from cache, got %d rows", len(got))
	}
	if got[0].Ts != fresh || got[1].Ts != now {
		t.Fatalf("wrong survivors: %+v", got)
	}

	var dbCount int
	if err := s.db.Get(&dbCount, `SELECT COUNT(*) FROM metrics WHERE ts = ?`, stale); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if dbCount != 0 {
		t.Fatal("stale row still in database")
	}
}

func TestTradeHistoryFilters(t *testing.T) {
	s := openTestStores(t)
	now := time.Now().UnixMilli()

	trades := []models.Trade{
		{Ts: now, Symbol: "BTCUSDT", Market: models.MarketSpot, Exchange: models.ExchangeBybit, Side: models.TradeBuy, Price: 100, Qty: 1},
		{Ts: now + 1, Symbol: "BTCUSDT", Market: models.MarketPerp, Exchange: models.ExchangeMexc, Side: models.TradeSell, Price: 100, Qty: 2},
		{Ts: now + 2, Symbol: "ETHUSDT", Market: models.MarketPerp, Exchange: models.ExchangeBybit, Side: models.TradeBuy, Price: 10, Qty: 3},
	}
	for _, tr := range trades {
		if err := s.Trades.Append(tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := s.Trades.History(10, HistoryFilter{Symbol: "BTCUSDT"}); len(got) != 2 {
		t.Fatalf("symbol filter: %d", len(got))
	}
	if got := s.Trades.History(10, HistoryFilter{Market: "perp"}); len(got) != 2 {
		t.Fatalf("market filter should be case-insensitive: %d", len(got))
	}
	if got := s.Trades.History(10, HistoryFilter{Exchange: "MEXC"}); len(got) != 1 || got[0].Qty != 2 {
		t.Fatalf("exchange filter should be case-insensitive: %+v", got)
	}
}

func TestOutlierAppendAllAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StoreConfig{DataDir: dir}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UnixMilli()
	recs := []models.OutlierRecord{
		{Ts: now, Symbol: "BTCUSDT", Market: models.MarketSpot, Exchange: models.ExchangeBybit, Side: models.SideBid, Price: 100, Size: 500, ZScore: 6, BpsFromMid: 1},
		{Ts: now, Symbol: "BTCUSDT", Market: models.MarketPerp, Exchange: models.ExchangeMexc, Side: models.SideAsk, Price: 101, Size: 400, ZScore: 5.5, BpsFromMid: 99},
	}
	if err := s.Outliers.AppendAll(recs); err != nil {
		t.Fatalf("append all: %v", err)
	}
	s.Close()

	// Reopen: loadExisting must rehydrate the cache.
	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got := s2.Outliers.History(10, HistoryFilter{})
	if len(got) != 2 {
		t.Fatalf("reloaded %d outliers, want 2", len(got))
	}
	if got[0].ZScore != 6 || got[1].BpsFromMid != 99 {
		t.Fatalf("reloaded rows wrong: %+v", got)
	}
}

func TestSpanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StoreConfig{DataDir: dir}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UnixMilli()
	sp := models.OutlierSpan{
		StartTs: now - 5000, EndTs: now, DurationMs: 5000,
		Symbol: "BTCUSDT", Market: models.MarketSpot, Exchange: models.ExchangeBybit,
		Side: models.SideBid, Price: 100,
		MaxZ: 7, AvgZ: 6.5, Count: 2,
		StartSize: 500, EndSize: 450, FilledPct: 0.1,
		StartBook: `{"bids":[],"asks":[]}`, EndBook: `{"bids":[],"asks":[]}`,
		TradeBuyQty: 25, TradeCount: 1,
	}
	if err := s.AppendSpan(sp); err != nil {
		t.Fatalf("append span: %v", err)
	}
	s.Close()

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got := s2.Spans.History(10, HistoryFilter{Symbol: "BTCUSDT"})
	if len(got) != 1 {
		t.Fatalf("reloaded %d spans, want 1", len(got))
	}
	if got[0] != sp {
		t.Fatalf("span round trip mismatch:\n got %+v\nwant %+v", got[0], sp)
	}
}

func TestSpanMigrationAddsColumns(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "depthwatch.db")

	// Simulate an old database that predates most span columns.
	db, err := sqlx.Connect("sqlite3", dbFile)
	if err != nil {
		t.Fatalf("pre-create db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE outlier_spans (start_ts INTEGER NOT NULL, end_ts INTEGER NOT NULL)`); err != nil {
		t.Fatalf("pre-create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO outlier_spans (start_ts, end_ts) VALUES (?, ?)`, 1, time.Now().UnixMilli()); err != nil {
		t.Fatalf("pre-insert: %v", err)
	}
	db.Close()

	s, err := Open(config.StoreConfig{DataDir: dir, DBFile: dbFile})
	if err != nil {
		t.Fatalf("open over old schema: %v", err)
	}
	defer s.Close()

	// The migrated row surfaces with zero-valued new columns.
	got := s.Spans.History(10, HistoryFilter{})
	if len(got) != 1 || got[0].StartTs != 1 {
		t.Fatalf("migrated row missing: %+v", got)
	}

	// A full span row must insert cleanly post-migration.
	if err := s.AppendSpan(models.OutlierSpan{StartTs: 2, EndTs: time.Now().UnixMilli(), Symbol: "X", Count: 1}); err != nil {
		t.Fatalf("append after migration: %v", err)
	}
}

func TestHistoryLimitSemantics(t *testing.T) {
	s := openTestStores(t)
	now := time.Now().UnixMilli()

	for i := 0; i < 3; i++ {
		s.Trades.Append(models.Trade{Ts: now + int64(i), Symbol: "X", Market: models.MarketSpot, Exchange: models.ExchangeBybit, Side: models.TradeBuy, Price: 1, Qty: 1})
	}
	// N <= limit returns all N in insertion order.
	got := s.Trades.History(10, HistoryFilter{})
	if len(got) != 3 || got[0].Ts != now || got[2].Ts != now+2 {
		t.Fatalf("limit semantics wrong: %+v", got)
	}
}
