package mexc

import "testing"

func TestNegotiateDepth(t *testing.T) {
	cases := map[int]int{
		5:   5,
		10:  10,
		20:  20,
		50:  20,
		1:   5,
		13:  10,
		16:  20,
	}
	for requested, want := range cases {
		if got := negotiateDepth(requested); got != want {
			t.Fatalf("negotiateDepth(%d) = %d, want %d", requested, got, want)
		}
	}
}

func TestChannelSymbol(t *testing.T) {
	cases := map[string]string{
		"spot@public.limit.depth.v3.api@BTCUSDT@20": "BTCUSDT",
		"push.depth.full":                           "",
		"spot@public.deals.v3.api@ETHUSDT":          "ETHUSDT",
		"":                                          "",
	}
	for channel, want := range cases {
		if got := channelSymbol(channel); got != want {
			t.Fatalf("channelSymbol(%q) = %q, want %q", channel, got, want)
		}
	}
}

func TestParseContractLevels(t *testing.T) {
	raw := [][]float64{
		{100.5, 3, 2},
		{101, 1},
		{99},
	}
	levels := parseContractLevels(raw)
	if len(levels) != 2 {
		t.Fatalf("parsed %d levels, want 2", len(levels))
	}
	if levels[0].Price != 100.5 || levels[0].Size != 3 {
		t.Fatalf("first level wrong: %+v", levels[0])
	}
}

func TestParseSpotLevels(t *testing.T) {
	levels := parseSpotLevels([][]string{{"100.1", "2.5"}, {"x", "1"}})
	if len(levels) != 1 || levels[0].Price != 100.1 || levels[0].Size != 2.5 {
		t.Fatalf("spot levels wrong: %+v", levels)
	}
}
