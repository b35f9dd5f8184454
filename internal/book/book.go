package book

import (
	"sort"
	"sync"

	"depthwatch/internal/models"
)

// Book holds the live order-book state for one venue x market x symbol.
// The owning feed loop mutates it; the metrics tick reads sorted snapshots
// and snapshot-resets the tracker. All access goes through the lock.
type Book struct {
	mu       sync.Mutex
	exchange string
	market   string
	symbol   string
	bids     map[float64]float64
	asks     map[float64]float64
	tracker  LevelTracker
	lastTs   int64
	touched  bool
}

func New(exchange, market, symbol string) *Book {
	return &Book{
		exchange: exchange,
		market:   market,
		symbol:   symbol,
		bids:     make(map[float64]float64),
		asks:     make(map[float64]float64),
	}
}

func (b *Book) Exchange() string { return b.exchange }
func (b *Book) Market() string   { return b.market }
func (b *Book) Symbol() string   { return b.symbol }

// ApplyDelta applies sparse incremental updates. A zero size deletes the
// level; deleting an absent price is a no-op and yields no tracker event.
func (b *Book) ApplyDelta(ts int64, bids, asks []models.BookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.applySide(models.SideBid, b.bids, bids)
	b.applySide(models.SideAsk, b.asks, asks)
	b.lastTs = ts
	b.touched = true
}

// ApplySnapshot replaces the book with a full top-N view, diffing against
// previous state so the tracker sees adds, changes and removals.
func (b *Book) ApplySnapshot(ts int64, bids, asks []models.BookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.applySnapshotSide(models.SideBid, b.bids, bids)
	b.applySnapshotSide(models.SideAsk, b.asks, asks)
	b.lastTs = ts
	b.touched = true
}

// Reset clears both sides without tracker events. Used when a feed
// reconnects and the venue replays a fresh full book.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.touched = false
}

func (b *Book) applySide(side string, state map[float64]float64, updates []models.BookLevel) {
	for _, lvl := range updates {
		prev := state[lvl.Price]
		if lvl.Size == 0 {
			if prev == 0 {
				continue
			}
			delete(state, lvl.Price)
		} else {
			state[lvl.Price] = lvl.Size
		}
		b.tracker.Record(side, prev, lvl.Size)
	}
}

func (b *Book) applySnapshotSide(side string, state map[float64]float64, next []models.BookLevel) {
	seen := make(map[float64]struct{}, len(next))
	for _, lvl := range next {
		if lvl.Size == 0 {
			continue
		}
		seen[lvl.Price] = struct{}{}
		prev := state[lvl.Price]
		if prev != lvl.Size {
			b.tracker.Record(side, prev, lvl.Size)
		}
		state[lvl.Price] = lvl.Size
	}
	for price, prev := range state {
		if _, ok := seen[price]; ok {
			continue
		}
		b.tracker.Record(side, prev, 0)
		delete(state, price)
	}
}

// Snapshot returns a sorted top-N copy of the book, bids descending and
// asks ascending. ok is false until the book has received data.
func (b *Book) Snapshot(n int) (models.BookSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.touched {
		return models.BookSnapshot{}, false
	}

	snap := models.BookSnapshot{
		Exchange: b.exchange,
		Market:   b.market,
		Symbol:   b.symbol,
		Ts:       b.lastTs,
		Bids:     sortSide(b.bids, true, n),
		Asks:     sortSide(b.asks, false, n),
	}
	return snap, true
}

// SnapshotResetMoves hands the tick loop the churn accumulated since the
// previous tick and zeroes the tracker.
func (b *Book) SnapshotResetMoves() models.SideMoveStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.SnapshotReset()
}

func sortSide(state map[float64]float64, descending bool, n int) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(state))
	for price, size := range state {
		levels = append(levels, models.BookLevel{Price: price, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	return levels
}
