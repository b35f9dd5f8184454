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

// LiquidationStore persists forced-close events.
type LiquidationStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.Liquidation
	retention time.Duration
	log       *logger.Entry
}

func newLiquidationStore(db *sqlx.DB, retention time.Duration) *LiquidationStore {
	return &LiquidationStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("liquidation_store"),
	}
}

func (s *LiquidationStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS liquidations (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		qty REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_liquidations_ts ON liquidations(ts);
	CREATE INDEX IF NOT EXISTS idx_liquidations_symbol_ts ON liquidations(symbol, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create liquidations schema: %w", err)
	}
	return s.loadExisting()
}

func (s *LiquidationStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM liquidations WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune liquidations on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT ts, symbol, market, exchange, side, price, qty FROM liquidations WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load liquidations: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var l models.Liquidation
		if err := rows.StructScan(&l); err != nil {
			continue
		}
		s.rows = append(s.rows, l)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("liquidation history loaded")
	return nil
}

func (s *LiquidationStore) Append(l models.Liquidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	_, err := s.db.Exec(`INSERT INTO liquidations (ts, symbol, market, exchange, side, price, qty) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Ts, l.Symbol, l.Market, l.Exchange, l.Side, l.Price, l.Qty)
	if err != nil {
		return fmt.Errorf("failed to append liquidation: %w", err)
	}
	s.rows = append(s.rows, l)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("liquidations").Inc()
	return nil
}

func (s *LiquidationStore) History(limit int, filter HistoryFilter) []models.Liquidation {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.Liquidation
	for _, l := range s.rows {
		if filter.matches(l.Symbol, l.Market, l.Exchange) {
			filtered = append(filtered, l)
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *LiquidationStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(l models.Liquidation) int64 { return l.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM liquidations WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("liquidation prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("liquidations").Add(float64(dropped))
	}
}
