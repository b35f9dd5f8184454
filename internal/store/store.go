// Package store persists every derived stream to one embedded SQLite file
// with time-bounded retention. Each store pairs its table with an
// in-memory cache so history reads never query the database; a read only
// reaches it when retention pruning deletes expired rows.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"depthwatch/config"
	"depthwatch/internal/models"
	"depthwatch/logger"
)

// Retention horizons. Metrics-like streams keep a day; trade-grade
// streams keep the full analysis window.
const (
	RetentionShort = 24 * time.Hour
	RetentionLong  = 90 * 24 * time.Hour
)

// Stores bundles every stream store over one shared database handle.
type Stores struct {
	db  *sqlx.DB
	log *logger.Log

	Metrics      *MetricsStore
	Trades       *TradeStore
	Liquidations *LiquidationStore
	OiFunding    *OiFundingStore
	Outliers     *OutlierStore
	Spans        *SpanStore
	LargeMoves   *LargeMoveStore
}

// Open creates the data directory and database if needed, applies schema
// and migrations, and reloads rows within retention into the caches.
func Open(cfg config.StoreConfig) (*Stores, error) {
	log := logger.GetLogger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbFile := cfg.DBFile
	if dbFile == "" {
		dbFile = filepath.Join(cfg.DataDir, "depthwatch.db")
	}

	db, err := sqlx.Connect("sqlite3", dbFile+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Stores{db: db, log: log}
	s.Metrics = newMetricsStore(db, RetentionShort)
	s.Trades = newTradeStore(db, RetentionLong)
	s.Liquidations = newLiquidationStore(db, RetentionShort)
	s.OiFunding = newOiFundingStore(db, RetentionShort)
	s.Outliers = newOutlierStore(db, RetentionLong)
	s.Spans = newSpanStore(db, RetentionLong)
	s.LargeMoves = newLargeMoveStore(db, RetentionShort)

	for _, init := range []func() error{
		s.Metrics.init,
		s.Trades.init,
		s.Liquidations.init,
		s.OiFunding.init,
		s.Outliers.init,
		s.Spans.init,
		s.LargeMoves.init,
	} {
		if err := init(); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.WithComponent("store").WithFields(logger.Fields{"db": dbFile}).Info("stores opened")
	return s, nil
}

func (s *Stores) Close() error {
	return s.db.Close()
}

// AppendMetrics implements the engine's persistence surface.
func (s *Stores) AppendMetrics(p models.MetricsPoint) error {
	return s.Metrics.Append(p)
}

func (s *Stores) AppendOutliers(recs []models.OutlierRecord) error {
	return s.Outliers.AppendAll(recs)
}

func (s *Stores) AppendLargeMoves(moves []models.LevelMove) error {
	return s.LargeMoves.AppendAll(moves)
}

// AppendSpan implements the span tracker's persistence surface.
func (s *Stores) AppendSpan(sp models.OutlierSpan) error {
	return s.Spans.Append(sp)
}

// HistoryFilter narrows history reads. Empty fields match everything;
// exchange and market compare case-insensitively.
type HistoryFilter struct {
	Symbol   string
	Market   string
	Exchange string
}

func (f HistoryFilter) matches(symbol, market, exchange string) bool {
	if f.Symbol != "" && f.Symbol != symbol {
		return false
	}
	if f.Market != "" && !strings.EqualFold(f.Market, market) {
		return false
	}
	if f.Exchange != "" && !strings.EqualFold(f.Exchange, exchange) {
		return false
	}
	return true
}

// tail returns the last limit entries of rows.
func tail[T any](rows []T, limit int) []T {
	if limit <= 0 || limit >= len(rows) {
		out := make([]T, len(rows))
		copy(out, rows)
		return out
	}
	out := make([]T, limit)
	copy(out, rows[len(rows)-limit:])
	return out
}

// pruneRows drops leading entries older than cutoff. Rows are appended in
// time order, so trimming the head suffices.
func pruneRows[T any](rows []T, ts func(T) int64, cutoff int64) ([]T, int) {
	start := 0
	for start < len(rows) && ts(rows[start]) < cutoff {
		start++
	}
	if start == 0 {
		return rows, 0
	}
	return append(rows[:0:0], rows[start:]...), start
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
