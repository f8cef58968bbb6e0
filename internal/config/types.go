package config

import "regexp"

// DefaultTickers are scanned when no list is configured.
var DefaultTickers = []string{
	"SPY", "QQQ", "IWM", "AAPL", "TSLA", "NVDA", "META",
	"AMZN", "GOOGL", "MSFT", "AMD", "NFLX",
}

// tickerPattern accepts plain equity and index symbols, including
// class shares like BRK.B.
var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}(\.[A-Z])?$`)

// ValidTicker reports whether s looks like an underlying symbol.
func ValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}
