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

// OiFundingStore persists open-interest and funding observations.
type OiFundingStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.OiFunding
	retention time.Duration
	log       *logger.Entry
}

func newOiFundingStore(db *sqlx.DB, retention time.Duration) *OiFundingStore {
	return &OiFundingStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("oi_funding_store"),
	}
}

func (s *OiFundingStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oi_funding (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		open_interest REAL NOT NULL,
		open_interest_value REAL NOT NULL,
		funding_rate REAL NOT NULL,
		next_funding_ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_oi_funding_ts ON oi_funding(ts);
	CREATE INDEX IF NOT EXISTS idx_oi_funding_symbol_ts ON oi_funding(symbol, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create oi_funding schema: %w", err)
	}
	return s.loadExisting()
}

func (s *OiFundingStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM oi_funding WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune oi_funding on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT ts, symbol, exchange, open_interest, open_interest_value, funding_rate, next_funding_ts FROM oi_funding WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load oi_funding: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var o models.OiFunding
		if err := rows.StructScan(&o); err != nil {
			continue
		}
		s.rows = append(s.rows, o)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("oi/funding history loaded")
	return nil
}

func (s *OiFundingStore) Append(o models.OiFunding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	_, err := s.db.Exec(`INSERT INTO oi_funding (ts, symbol, exchange, open_interest, open_interest_value, funding_rate, next_funding_ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Ts, o.Symbol, o.Exchange, o.OpenInterest, o.OpenInterestVal, o.FundingRate, o.NextFundingTs)
	if err != nil {
		return fmt.Errorf("failed to append oi/funding: %w", err)
	}
	s.rows = append(s.rows, o)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("oi_funding").Inc()
	return nil
}

func (s *OiFundingStore) History(limit int, filter HistoryFilter) []models.OiFunding {
	s.mu.Lock()
	s.pruneLocked()
	// Open-interest rows carry no market dimension.
	filter.Market = ""
	var filtered []models.OiFunding
	for _, o := range s.rows {
		if filter.matches(o.Symbol, "", o.Exchange) {
			filtered = append(filtered, o)
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *OiFundingStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(o models.OiFunding) int64 { return o.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM oi_funding WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("oi/funding prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("oi_funding").Add(float64(dropped))
	}
}
