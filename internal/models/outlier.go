package models

// OutlierRecord is one resting level whose size z-score cleared the
// detection threshold on a tick. The flat fields are what the outlier store
// persists; Enrichment travels only as far as the span tracker.
type OutlierRecord struct {
	Ts         int64   `json:"ts" db:"ts"`
	Symbol     string  `json:"symbol" db:"symbol"`
	Market     string  `json:"market" db:"market"`
	Exchange   string  `json:"exchange" db:"exchange"`
	Side       string  `json:"side" db:"side"`
	Price      float64 `json:"price" db:"price"`
	Size       float64 `json:"size" db:"size"`
	ZScore     float64 `json:"zScore" db:"z_score"`
	BpsFromMid float64 `json:"bpsFromMid" db:"bps_from_mid"`

	Enrichment *OutlierEnrichment `json:"-" db:"-"`
}

// OutlierEnrichment is the book and volatility context captured at the
// moment of detection, computed over the top-20 levels of the venue book.
type OutlierEnrichment struct {
	Mid        float64
	Book       string
	BestBid    float64
	BestAsk    float64
	SpreadBps  float64
	Imbalance  float64
	BidDepth   float64
	AskDepth   float64
	Microprice float64
	LevelRank  int
	Vol1m      float64
	Vol5m      float64
}
