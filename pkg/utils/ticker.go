package utils

import "strings"

// NormalizeTicker cleans up a user-supplied ticker: trims whitespace,
// uppercases, and strips a leading $ (common in chat input). Exchange
// suffixes such as .NS or .BO pass through untouched — validity of the
// symbol is decided by the data provider, not locally.
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	return strings.TrimPrefix(ticker, "$")
}

// BareSymbol strips a trailing exchange suffix (.NS, .BO) from a ticker,
// returning the plain exchange symbol. Used for keyword matching against
// news headlines.
func BareSymbol(ticker string) string {
	ticker = NormalizeTicker(ticker)
	if i := strings.LastIndex(ticker, "."); i > 0 {
		return ticker[:i]
	}
	return ticker
}
