package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// TradeStore persists normalized prints from every venue and market.
type TradeStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.Trade
	retention time.Duration
	log       *logger.Entry
}

func newTradeStore(db *sqlx.DB, retention time.Duration) *TradeStore {
	return &TradeStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("trade_store"),
	}
}

func (s *TradeStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		qty REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create trades schema: %w", err)
	}
	return s.loadExisting()
}

func (s *TradeStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM trades WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune trades on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT ts, symbol, market, exchange, side, price, qty FROM trades WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var t models.Trade
		if err := rows.StructScan(&t); err != nil {
			continue
		}
		s.rows = append(s.rows, t)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("trade history loaded")
	return nil
}

func (s *TradeStore) Append(t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	_, err := s.db.Exec(`INSERT INTO trades (ts, symbol, market, exchange, side, price, qty) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Ts, t.Symbol, t.Market, t.Exchange, t.Side, t.Price, t.Qty)
	if err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	s.rows = append(s.rows, t)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("trades").Inc()
	return nil
}

func (s *TradeStore) History(limit int, filter HistoryFilter) []models.Trade {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.Trade
	for _, t := range s.rows {
		if filter.matches(t.Symbol, t.Market, t.Exchange) {
			filtered = append(filtered, t)
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *TradeStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(t models.Trade) int64 { return t.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM trades WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("trade prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("trades").Add(float64(dropped))
	}
}
