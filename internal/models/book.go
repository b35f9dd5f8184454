package models

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// GENERAL ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Exchange identifiers. Comparisons on persisted rows are case-insensitive
// where noted; these canonical forms are what the monitor emits.
const (
	ExchangeBybit = "Bybit"
	ExchangeMexc  = "Mexc"
)

// Market identifiers.
const (
	MarketSpot = "Spot"
	MarketPerp = "Perp"
)

// Side identifiers for book levels and resting-depth records.
const (
	SideBid = "Bid"
	SideAsk = "Ask"
)

// BookLevel is a single resting price level.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Notional is the level's resting value in quote currency.
func (l BookLevel) Notional() float64 {
	return l.Price * l.Size
}

// MoveStats aggregates per-side level churn between two snapshot-resets.
// SizeDelta accumulates newSize for adds, prevSize for removals and
// |new-prev| for changes.
type MoveStats struct {
	Adds      int64   `json:"adds"`
	Changes   int64   `json:"changes"`
	Removals  int64   `json:"removals"`
	SizeDelta float64 `json:"sizeDelta"`
}

// Add folds another window of stats into this one.
func (m *MoveStats) Add(other MoveStats) {
	m.Adds += other.Adds
	m.Changes += other.Changes
	m.Removals += other.Removals
	m.SizeDelta += other.SizeDelta
}

// SideMoveStats carries MoveStats for both book sides.
type SideMoveStats struct {
	Bid MoveStats `json:"bid"`
	Ask MoveStats `json:"ask"`
}

// Add folds another window into this one, side by side.
func (s *SideMoveStats) Add(other SideMoveStats) {
	s.Bid.Add(other.Bid)
	s.Ask.Add(other.Ask)
}

// BookSnapshot is the sorted top-N view a feed adapter hands to the engine.
// Bids descend by price, asks ascend.
type BookSnapshot struct {
	Exchange string      `json:"exchange"`
	Market   string      `json:"market"`
	Symbol   string      `json:"symbol"`
	Ts       int64       `json:"ts"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
}

// Mid returns the midpoint of the snapshot's best bid and ask, or 0 when
// either side is empty.
func (b *BookSnapshot) Mid() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2
}
