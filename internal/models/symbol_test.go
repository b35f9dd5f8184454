package models

import "testing"

func TestToMexcContract(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC_USDT",
		"ethusdc":  "ETH_USDC",
		"SOLUSD":   "SOL_USD",
		"BTC_USDT": "BTC_USDT",
		"WEIRD":    "WEIRD",
	}
	for in, want := range cases {
		if got := ToMexcContract(in); got != want {
			t.Fatalf("ToMexcContract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMexcContractRoundTrip(t *testing.T) {
	for _, sym := range []string{"BTCUSDT", "WHITEWHALEUSDT", "ETHUSDC"} {
		if got := FromMexcContract(ToMexcContract(sym)); got != sym {
			t.Fatalf("round trip %q -> %q", sym, got)
		}
	}
}

func TestCanonicalSymbol(t *testing.T) {
	cases := map[string]string{
		" btc-usdt ": "BTCUSDT",
		"BTC_USDT":   "BTCUSDT",
		"ethusdt":    "ETHUSDT",
	}
	for in, want := range cases {
		if got := CanonicalSymbol(in); got != want {
			t.Fatalf("CanonicalSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
