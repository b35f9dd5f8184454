package models

// SpanKey identifies one tracked resting level across ticks.
type SpanKey struct {
	Symbol   string  `json:"symbol"`
	Market   string  `json:"market"`
	Exchange string  `json:"exchange"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
}

// OutlierSpan is the durable record of one outlier's lifetime: opened on
// first sighting, extended on each consecutive tick the key stays outlying,
// closed when it disappears.
type OutlierSpan struct {
	StartTs    int64   `json:"startTs" db:"start_ts"`
	EndTs      int64   `json:"endTs" db:"end_ts"`
	DurationMs int64   `json:"durationMs" db:"duration_ms"`
	Symbol     string  `json:"symbol" db:"symbol"`
	Market     string  `json:"market" db:"market"`
	Exchange   string  `json:"exchange" db:"exchange"`
	Side       string  `json:"side" db:"side"`
	Price      float64 `json:"price" db:"price"`

	MaxZ  float64 `json:"maxZ" db:"max_z"`
	AvgZ  float64 `json:"avgZ" db:"avg_z"`
	Count int64   `json:"count" db:"count"`

	StartSize float64 `json:"startSize" db:"start_size"`
	EndSize   float64 `json:"endSize" db:"end_size"`
	FilledPct float64 `json:"filledPct" db:"filled_pct"`
	StartBps  float64 `json:"startBps" db:"start_bps"`
	EndBps    float64 `json:"endBps" db:"end_bps"`

	StartBook string `json:"startBook" db:"start_book"`
	EndBook   string `json:"endBook" db:"end_book"`

	StartBestBid    float64 `json:"startBestBid" db:"start_best_bid"`
	StartBestAsk    float64 `json:"startBestAsk" db:"start_best_ask"`
	EndBestBid      float64 `json:"endBestBid" db:"end_best_bid"`
	EndBestAsk      float64 `json:"endBestAsk" db:"end_best_ask"`
	StartSpreadBps  float64 `json:"startSpreadBps" db:"start_spread_bps"`
	EndSpreadBps    float64 `json:"endSpreadBps" db:"end_spread_bps"`
	StartImbalance  float64 `json:"startImbalance" db:"start_imbalance"`
	EndImbalance    float64 `json:"endImbalance" db:"end_imbalance"`
	StartBidDepth   float64 `json:"startBidDepth" db:"start_bid_depth"`
	StartAskDepth   float64 `json:"startAskDepth" db:"start_ask_depth"`
	EndBidDepth     float64 `json:"endBidDepth" db:"end_bid_depth"`
	EndAskDepth     float64 `json:"endAskDepth" db:"end_ask_depth"`
	StartMicroprice float64 `json:"startMicroprice" db:"start_microprice"`
	EndMicroprice   float64 `json:"endMicroprice" db:"end_microprice"`
	StartLevelRank  int     `json:"startLevelRank" db:"start_level_rank"`
	EndLevelRank    int     `json:"endLevelRank" db:"end_level_rank"`
	StartVol1m      float64 `json:"startVol1m" db:"start_vol_1m"`
	StartVol5m      float64 `json:"startVol5m" db:"start_vol_5m"`
	EndVol1m        float64 `json:"endVol1m" db:"end_vol_1m"`
	EndVol5m        float64 `json:"endVol5m" db:"end_vol_5m"`

	SizeDelta    float64 `json:"sizeDelta" db:"size_delta"`
	SizeDeltaPct float64 `json:"sizeDeltaPct" db:"size_delta_pct"`

	TradeBuyQty  float64 `json:"tradeBuyQty" db:"trade_buy_qty"`
	TradeSellQty float64 `json:"tradeSellQty" db:"trade_sell_qty"`
	TradeCount   int64   `json:"tradeCount" db:"trade_count"`
}
