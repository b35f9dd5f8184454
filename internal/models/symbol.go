package models

import "strings"

// quoteCurrencies are the quote assets the monitor recognizes when
// translating canonical symbols to venue-specific forms. Order matters:
// longest suffix wins.
var quoteCurrencies = []string{"USDT", "USDC", "USD"}

// ToMexcContract converts a canonical symbol to the Mexc contract form by
// inserting an underscore before the quote currency (BTCUSDT -> BTC_USDT).
// Symbols with no recognized quote are returned unchanged.
func ToMexcContract(sym string) string {
	sym = strings.ToUpper(sym)
	if strings.Contains(sym, "_") {
		return sym
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return sym[:len(sym)-len(quote)] + "_" + quote
		}
	}
	return sym
}

// FromMexcContract converts a Mexc contract symbol back to canonical form.
func FromMexcContract(sym string) string {
	return strings.ReplaceAll(strings.ToUpper(sym), "_", "")
}

// CanonicalSymbol upper-cases and strips venue separators.
func CanonicalSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	sym = strings.ReplaceAll(sym, "_", "")
	sym = strings.ReplaceAll(sym, "-", "")
	return sym
}
