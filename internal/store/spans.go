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

// spanColumns drives the additive migration: the table has grown columns
// over time, so startup adds whatever an older database file is missing.
var spanColumns = []struct {
	name string
	ddl  string
}{
	{"start_ts", "INTEGER NOT NULL DEFAULT 0"},
	{"end_ts", "INTEGER NOT NULL DEFAULT 0"},
	{"duration_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"symbol", "TEXT NOT NULL DEFAULT ''"},
	{"market", "TEXT NOT NULL DEFAULT ''"},
	{"exchange", "TEXT NOT NULL DEFAULT ''"},
	{"side", "TEXT NOT NULL DEFAULT ''"},
	{"price", "REAL NOT NULL DEFAULT 0"},
	{"max_z", "REAL NOT NULL DEFAULT 0"},
	{"avg_z", "REAL NOT NULL DEFAULT 0"},
	{"count", "INTEGER NOT NULL DEFAULT 0"},
	{"start_size", "REAL NOT NULL DEFAULT 0"},
	{"end_size", "REAL NOT NULL DEFAULT 0"},
	{"filled_pct", "REAL NOT NULL DEFAULT 0"},
	{"start_bps", "REAL NOT NULL DEFAULT 0"},
	{"end_bps", "REAL NOT NULL DEFAULT 0"},
	{"start_book", "TEXT NOT NULL DEFAULT ''"},
	{"end_book", "TEXT NOT NULL DEFAULT ''"},
	{"start_best_bid", "REAL NOT NULL DEFAULT 0"},
	{"start_best_ask", "REAL NOT NULL DEFAULT 0"},
	{"end_best_bid", "REAL NOT NULL DEFAULT 0"},
	{"end_best_ask", "REAL NOT NULL DEFAULT 0"},
	{"start_spread_bps", "REAL NOT NULL DEFAULT 0"},
	{"end_spread_bps", "REAL NOT NULL DEFAULT 0"},
	{"start_imbalance", "REAL NOT NULL DEFAULT 0"},
	{"end_imbalance", "REAL NOT NULL DEFAULT 0"},
	{"start_bid_depth", "REAL NOT NULL DEFAULT 0"},
	{"start_ask_depth", "REAL NOT NULL DEFAULT 0"},
	{"end_bid_depth", "REAL NOT NULL DEFAULT 0"},
	{"end_ask_depth", "REAL NOT NULL DEFAULT 0"},
	{"start_microprice", "REAL NOT NULL DEFAULT 0"},
	{"end_microprice", "REAL NOT NULL DEFAULT 0"},
	{"start_level_rank", "INTEGER NOT NULL DEFAULT 0"},
	{"end_level_rank", "INTEGER NOT NULL DEFAULT 0"},
	{"start_vol_1m", "REAL NOT NULL DEFAULT 0"},
	{"start_vol_5m", "REAL NOT NULL DEFAULT 0"},
	{"end_vol_1m", "REAL NOT NULL DEFAULT 0"},
	{"end_vol_5m", "REAL NOT NULL DEFAULT 0"},
	{"size_delta", "REAL NOT NULL DEFAULT 0"},
	{"size_delta_pct", "REAL NOT NULL DEFAULT 0"},
	{"trade_buy_qty", "REAL NOT NULL DEFAULT 0"},
	{"trade_sell_qty", "REAL NOT NULL DEFAULT 0"},
	{"trade_count", "INTEGER NOT NULL DEFAULT 0"},
}

// SpanStore persists closed outlier spans. Retention keys off end_ts.
type SpanStore struct {
	db        *sqlx.DB
	mu        sync.RWMutex
	rows      []models.OutlierSpan
	retention time.Duration
	log       *logger.Entry
}

func newSpanStore(db *sqlx.DB, retention time.Duration) *SpanStore {
	return &SpanStore{
		db:        db,
		retention: retention,
		log:       logger.GetLogger().WithComponent("span_store"),
	}
}

func (s *SpanStore) init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS outlier_spans (start_ts INTEGER NOT NULL, end_ts INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create outlier_spans table: %w", err)
	}
	if err := s.migrate(); err != nil {
		return err
	}
	// Indexes land after migration so the symbol columns exist.
	indexes := `
	CREATE INDEX IF NOT EXISTS idx_outlier_spans_end_ts ON outlier_spans(end_ts);
	CREATE INDEX IF NOT EXISTS idx_outlier_spans_symbol_ts ON outlier_spans(symbol, end_ts);
	CREATE INDEX IF NOT EXISTS idx_outlier_spans_full ON outlier_spans(symbol, market, exchange, end_ts);`
	if _, err := s.db.Exec(indexes); err != nil {
		return fmt.Errorf("failed to create outlier_spans indexes: %w", err)
	}
	return s.loadExisting()
}

// migrate adds any column the current schema defines that the database
// file predates. Re-running is a no-op.
func (s *SpanStore) migrate() error {
	rows, err := s.db.Query(`PRAGMA table_info(outlier_spans)`)
	if err != nil {
		return fmt.Errorf("failed to inspect outlier_spans: %w", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		existing[name] = struct{}{}
	}
	rows.Close()

	added := 0
	for _, col := range spanColumns {
		if _, ok := existing[col.name]; ok {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE outlier_spans ADD COLUMN %s %s`, col.name, col.ddl)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		added++
	}
	if added > 0 {
		s.log.WithFields(logger.Fields{"columns": added}).Info("outlier_spans schema migrated")
	}
	return nil
}

func (s *SpanStore) loadExisting() error {
	cutoff := nowMs() - s.retention.Milliseconds()
	if _, err := s.db.Exec(`DELETE FROM outlier_spans WHERE end_ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune outlier_spans on startup: %w", err)
	}
	rows, err := s.db.Queryx(`SELECT * FROM outlier_spans WHERE end_ts >= ? ORDER BY end_ts`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load outlier_spans: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var sp models.OutlierSpan
		if err := rows.StructScan(&sp); err != nil {
			continue
		}
		s.rows = append(s.rows, sp)
		loaded++
	}
	s.log.WithFields(logger.Fields{"rows": loaded}).Info("span history loaded")
	return nil
}

func (s *SpanStore) Append(sp models.OutlierSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	_, err := s.db.NamedExec(`INSERT INTO outlier_spans (
		start_ts, end_ts, duration_ms, symbol, market, exchange, side, price,
		max_z, avg_z, count, start_size, end_size, filled_pct, start_bps, end_bps,
		start_book, end_book, start_best_bid, start_best_ask, end_best_bid, end_best_ask,
		start_spread_bps, end_spread_bps, start_imbalance, end_imbalance,
		start_bid_depth, start_ask_depth, end_bid_depth, end_ask_depth,
		start_microprice, end_microprice, start_level_rank, end_level_rank,
		start_vol_1m, start_vol_5m, end_vol_1m, end_vol_5m,
		size_delta, size_delta_pct, trade_buy_qty, trade_sell_qty, trade_count
	) VALUES (
		:start_ts, :end_ts, :duration_ms, :symbol, :market, :exchange, :side, :price,
		:max_z, :avg_z, :count, :start_size, :end_size, :filled_pct, :start_bps, :end_bps,
		:start_book, :end_book, :start_best_bid, :start_best_ask, :end_best_bid, :end_best_ask,
		:start_spread_bps, :end_spread_bps, :start_imbalance, :end_imbalance,
		:start_bid_depth, :start_ask_depth, :end_bid_depth, :end_ask_depth,
		:start_microprice, :end_microprice, :start_level_rank, :end_level_rank,
		:start_vol_1m, :start_vol_5m, :end_vol_1m, :end_vol_5m,
		:size_delta, :size_delta_pct, :trade_buy_qty, :trade_sell_qty, :trade_count
	)`, sp)
	if err != nil {
		return fmt.Errorf("failed to append span: %w", err)
	}
	s.rows = append(s.rows, sp)
	logger.IncrementStoreAppend()
	metrics.StoreAppends.WithLabelValues("outlier_spans").Inc()
	return nil
}

func (s *SpanStore) History(limit int, filter HistoryFilter) []models.OutlierSpan {
	s.mu.Lock()
	s.pruneLocked()
	var filtered []models.OutlierSpan
	for _, sp := range s.rows {
		if filter.matches(sp.Symbol, sp.Market, sp.Exchange) {
			filtered = append(filtered, sp)
		}
	}
	out := tail(filtered, limit)
	s.mu.Unlock()
	return out
}

func (s *SpanStore) pruneLocked() {
	cutoff := nowMs() - s.retention.Milliseconds()
	var dropped int
	s.rows, dropped = pruneRows(s.rows, func(sp models.OutlierSpan) int64 { return sp.EndTs }, cutoff)
	if dropped > 0 {
		if _, err := s.db.Exec(`DELETE FROM outlier_spans WHERE end_ts < ?`, cutoff); err != nil {
			s.log.WithError(err).Warn("span prune failed")
		}
		logger.IncrementStorePrune()
		metrics.StorePrunedRows.WithLabelValues("outlier_spans").Add(float64(dropped))
	}
}
