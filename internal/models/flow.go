package models

// Trade side identifiers as normalized from venue feeds.
const (
	TradeBuy  = "Buy"
	TradeSell = "Sell"
)

// Trade is one normalized print.
type Trade struct {
	Ts       int64   `json:"ts" db:"ts"`
	Symbol   string  `json:"symbol" db:"symbol"`
	Market   string  `json:"market" db:"market"`
	Exchange string  `json:"exchange" db:"exchange"`
	Side     string  `json:"side" db:"side"`
	Price    float64 `json:"price" db:"price"`
	Qty      float64 `json:"qty" db:"qty"`
}

// Liquidation is one forced-close event. Side is the side of the
// liquidated position's closing order.
type Liquidation struct {
	Ts       int64   `json:"ts" db:"ts"`
	Symbol   string  `json:"symbol" db:"symbol"`
	Market   string  `json:"market" db:"market"`
	Exchange string  `json:"exchange" db:"exchange"`
	Side     string  `json:"side" db:"side"`
	Price    float64 `json:"price" db:"price"`
	Qty      float64 `json:"qty" db:"qty"`
}

// OiFunding is one open-interest / funding observation for a perp symbol.
type OiFunding struct {
	Ts              int64   `json:"ts" db:"ts"`
	Symbol          string  `json:"symbol" db:"symbol"`
	Exchange        string  `json:"exchange" db:"exchange"`
	OpenInterest    float64 `json:"openInterest" db:"open_interest"`
	OpenInterestVal float64 `json:"openInterestValue" db:"open_interest_value"`
	FundingRate     float64 `json:"fundingRate" db:"funding_rate"`
	NextFundingTs   int64   `json:"nextFundingTs" db:"next_funding_ts"`
}
