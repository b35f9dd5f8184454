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

// LargeMoveStore persists qualifying resting-size jumps between ticks.
type LargeMoveStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.LevelMove
	retention time.Duration
	log       *logger.Entry
}

func newLargeMoveStore(db *sqlx.DB, retention time.Duration) *LargeMoveStore {
	return &LargeMoveStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("large_move_store"),
	}
}

func (s *LargeMoveStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS large_moves (
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		prev_size REAL NOT NULL,
		next_size REAL NOT NULL,
		delta_size REAL NOT NULL,
		notional_delta REAL NOT NULL,
		bps_from_mid REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_large_moves_ts ON large_moves(ts);
	CREATE INDEX IF NOT EXISTS idx_large_moves_symbol_ts ON large_moves(symbol, ts);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create large_moves schema: %w", err)
	}
	return s.loadExisting()
}

func (s *LargeMoveStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM large_moves WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune large_moves on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT ts, symbol, side, price, prev_size, next_size, delta_size, notional_delta, bps_from_mid FROM large_moves WHERE ts >= ? ORDER BY ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load large_moves: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var m models.LevelMove
		if err := rows.StructScan(&m); err != nil {
			continue
		}
		s.rows = append(s.rows, m)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("large-move history loaded")
	return nil
}

// AppendAll writes the tick's qualifying moves in one transaction.
func (s *LargeMoveStore) AppendAll(moves []models.LevelMove) error {
	if len(moves) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin large-move batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO large_moves (ts, symbol, side, price, prev_size, next_size, delta_size, notional_delta, bps_from_mid) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare large-move insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range moves {
		if _, err := stmt.Exec(m.Ts, m.Symbol, m.Side, m.Price, m.PrevSize, m.NextSize, m.DeltaSize, m.NotionalDelta, m.BpsFromMid); err != nil {
			return fmt.Errorf("failed to insert large move: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit large-move batch: %w", err)
	}

	s.rows = append(s.rows, moves...)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("large_moves").Add(float64(len(moves)))
	return nil
}

func (s *LargeMoveStore) History(limit int, symbol string) []models.LevelMove {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.LevelMove
	if symbol == "" {
		filtered = s.rows
	} else {
		for _, m := range s.rows {
			if m.Symbol == symbol {
				filtered = append(filtered, m)
			}
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *LargeMoveStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(m models.LevelMove) int64 { return m.Ts }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM large_moves WHERE ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("large-move prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("large_moves").Add(float64(dropped))
	}
}
