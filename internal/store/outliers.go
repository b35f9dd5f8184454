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

// OutlierStore persists the flat detection records; span enrichment never
// reaches this table.
type OutlierStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.OutlierRecord
	retention time.Duration
	log       *logger.Entry
}

func newOutlierStore(db *sqlx.DB, retention time.Duration) *OutlierStore {
	return &OutlierStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("outlier_store"),
	}
}

func (s *OutlierStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outliers (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		size REAL NOT NULL,
		z_score REAL NOT NULL,
		bps_from_mid REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outliers_ts ON outliers(ts);
	CREATE INDEX IF NOT EXISTS idx_outliers_symbol_ts ON outliers(symbol, ts);
	CREATE INDEX IF NOT EXISTS idx_outliers_full ON outliers(symbol, market, exchange, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create outliers schema: %w", err)
	}
	return s.loadExisting()
}

func (s *OutlierStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM outliers WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune outliers on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT ts, symbol, market, exchange, side, price, size, z_score, bps_from_mid FROM outliers WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load outliers: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var r models.OutlierRecord
		if err := rows.StructScan(&r); err != nil {
			continue
		}
		s.rows = append(s.rows, r)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("outlier history loaded")
	return nil
}

// AppendAll writes the tick's records in one transaction.
func (s *OutlierStore) AppendAll(recs []models.OutlierRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin outlier batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO outliers (ts, symbol, market, exchange, side, price, size, z_score, bps_from_mid) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare outlier insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(r.Ts, r.Symbol, r.Market, r.Exchange, r.Side, r.Price, r.Size, r.ZScore, r.BpsFromMid); err != nil {
			return fmt.Errorf("failed to insert outlier: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outlier batch: %w", err)
	}

	for _, r := range recs {
		r.Enrichment = nil
		s.rows = append(s.rows, r)
	}
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("outliers").Add(float64(len(recs)))
	return nil
}

func (s *OutlierStore) History(limit int, filter HistoryFilter) []models.OutlierRecord {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.OutlierRecord
	for _, r := range s.rows {
		if filter.matches(r.Symbol, r.Market, r.Exchange) {
			filtered = append(filtered, r)
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *OutlierStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(r models.OutlierRecord) int64 { return r.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM outliers WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("outlier prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("outliers").Add(float64(dropped))
	}
}
