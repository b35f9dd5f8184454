package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"depthwatch/internal/metrics"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// MetricsStore persists aggregated MetricsPoints. The full point is kept
// as a JSON document beside its indexed time and symbol columns.
type MetricsStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.MetricsPoint
	retention time.Duration
	log       *logger.Entry
}

func newMetricsStore(db *sqlx.DB, retention time.Duration) *MetricsStore {
	return &MetricsStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("metrics_store"),
	}
}

func (s *MetricsStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metrics (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics(ts);
	CREATE INDEX IF NOT EXISTS idx_metrics_symbol_ts ON metrics(symbol, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create metrics schema: %w", err)
	}
	return s.loadExisting()
}

func (s *MetricsStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM metrics WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune metrics on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT data FROM metrics WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var p models.MetricsPoint
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			// Old or corrupt row; skip rather than fail startup.
			continue
		}
		s.rows = append(s.rows, p)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("metrics history loaded")
	return nil
}

func (s *MetricsStore) Append(p models.MetricsPoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics point: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if _, err := s.db.Exec(`INSERT INTO metrics (ts, symbol, data) VALUES (?, ?, ?)`, p.Ts, p.Symbol, string(data)); err != nil {
		return fmt.Errorf("failed to append metrics point: %w", err)
	}
	s.rows = append(s.rows, p)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("metrics").Inc()
	return nil
}

// History returns the tail of the cached points, newest last. The read
// path never queries the database.
func (s *MetricsStore) History(limit int, symbol string) []models.MetricsPoint {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.MetricsPoint
	if symbol == "" {
		filtered = s.rows
	} else {
		for _, p := range s.rows {
			if p.Symbol == symbol {
				filtered = append(filtered, p)
			}
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *MetricsStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(p models.MetricsPoint) int64 { return p.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM metrics WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("metrics prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("metrics").Add(float64(dropped))
	}
}
