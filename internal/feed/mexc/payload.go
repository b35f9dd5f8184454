package mexc

import (
	"encoding/json"
	"strings"

	"depthwatch/internal/models"
)

const (
	wsContractURL   = "wss://contract.mexc.com/edge"
	restSpotURL     = "https://api.mexc.com/api/v3/depth"
	restContractURL = "https://contract.mexc.com/api/v1/contract"
)

// contractFrame is the envelope of every contract stream message. Control
// frames use method/ping, data pushes use channel+data.
type contractFrame struct {
	Method  string          `json:"method,omitempty"`
	Ping    *int64          `json:"ping,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Symbol  string          `json:"symbol,omitempty"`
	Ts      int64           `json:"ts,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// contractDepth is a full top-N snapshot. Levels are numeric
// [price, size, orderCount] triples.
type contractDepth struct {
	Bids    [][]float64 `json:"bids"`
	Asks    [][]float64 `json:"asks"`
	Version int64       `json:"version"`
}

// contractDeal is one print from push.deal. T is 1 for buy, 2 for sell.
type contractDeal struct {
	Price float64 `json:"p"`
	Qty   float64 `json:"v"`
	Taker int     `json:"T"`
	Ts    int64   `json:"t"`
}

// contractLiquidation is one forced-close event from push.liquidate (or
// the REST fallback list). Shares the deal field dialect: p/v/T/t.
type contractLiquidation struct {
	Price float64 `json:"p"`
	Qty   float64 `json:"v"`
	Taker int     `json:"T"`
	Ts    int64   `json:"t"`
}

// contractFunding is the push.funding.rate body.
type contractFunding struct {
	Symbol     string  `json:"symbol"`
	Rate       float64 `json:"fundingRate"`
	NextSettle int64   `json:"nextSettleTime"`
}

type subscribeReq struct {
	Method string         `json:"method"`
	Param  map[string]any `json:"param,omitempty"`
}

// spotDepth is the REST depth response. Levels are [price, qty] strings.
type spotDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// supportedFullDepths are the only limits sub.depth.full accepts.
var supportedFullDepths = []int{5, 10, 20}

func negotiateDepth(requested int) int {
	best := supportedFullDepths[0]
	bestDist := abs(requested - best)
	for _, d := range supportedFullDepths[1:] {
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

func parseContractLevels(raw [][]float64) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(raw))
	for _, triple := range raw {
		if len(triple) < 2 {
			continue
		}
		out = append(out, models.BookLevel{Price: triple[0], Size: triple[1]})
	}
	return out
}

// knownChannelTokens are the channel-name segments that are never symbols.
var knownChannelTokens = map[string]struct{}{
	"spot":    {},
	"futures": {},
	"public":  {},
	"private": {},
	"push":    {},
	"sub":     {},
}

// channelSymbol extracts a symbol from channel names of the form
// "...@<SYMBOL>@...". Segments containing dots are protocol tokens, as are
// the known fixed words; the first remaining upper-case segment wins.
func channelSymbol(channel string) string {
	for _, part := range strings.Split(channel, "@") {
		if part == "" || strings.Contains(part, ".") {
			continue
		}
		if _, known := knownChannelTokens[strings.ToLower(part)]; known {
			continue
		}
		if part == strings.ToUpper(part) {
			return part
		}
	}
	return ""
}
