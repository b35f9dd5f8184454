package bybit

import (
	"encoding/json"
	"strconv"
	"strings"

	"depthwatch/internal/models"
)

const (
	wsSpotURL   = "wss://stream.bybit.com/v5/public/spot"
	wsLinearURL = "wss://stream.bybit.com/v5/public/linear"
	restBaseURL = "https://api.bybit.com"
)

// envelope is the common frame around every public stream message.
type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg"`
}

// depthPayload carries one orderbook.<depth>.<symbol> update. Levels are
// [price, size] string pairs; size "0" deletes the level.
type depthPayload struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

// tradePayload is one element of a publicTrade/allLiquidation data array.
type tradePayload struct {
	Ts     int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Qty    string `json:"v"`
	Price  string `json:"p"`
}

// tickerPayload is the linear tickers stream body. Deltas omit unchanged
// fields, so everything is a string checked for emptiness.
type tickerPayload struct {
	Symbol            string `json:"symbol"`
	FundingRate       string `json:"fundingRate"`
	OpenInterest      string `json:"openInterest"`
	OpenInterestValue string `json:"openInterestValue"`
	NextFundingTime   string `json:"nextFundingTime"`
}

type subscribeReq struct {
	Op    string   `json:"op"`
	Args  []string `json:"args"`
	ReqID string   `json:"req_id"`
}

// parseLevels converts [price, size] string pairs, dropping malformed rows.
func parseLevels(raw [][]string) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		out = append(out, models.BookLevel{Price: price, Size: size})
	}
	return out
}

// topicSymbol pulls the trailing symbol out of topics like
// "orderbook.50.BTCUSDT" or "publicTrade.BTCUSDT".
func topicSymbol(topic string) string {
	idx := strings.LastIndex(topic, ".")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// supportedDepths per market. The venue rejects other values, so requests
// snap to the nearest supported one.
var supportedDepths = map[string][]int{
	models.MarketSpot: {1, 50, 200},
	models.MarketPerp: {1, 50, 200, 500},
}

func negotiateDepth(market string, requested int) int {
	supported := supportedDepths[market]
	if len(supported) == 0 {
		return requested
	}
	best := supported[0]
	bestDist := abs(requested - best)
	for _, d := range supported[1:] {
		if dist := abs(requested - d); dist < bestDist {
			best = d
			bestDist = dist
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
