// Package symbol handles market ticker parsing and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
)

// tickerRegex matches: {BASE}-{QUOTE}
// Example: BTC-USD
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z]{3,6})$`)

// ErrInvalidTicker is returned for tickers that do not match BASE-QUOTE.
var ErrInvalidTicker = errors.New("symbol: invalid ticker format")

// Symbol is a parsed market ticker.
type Symbol struct {
	Ticker string `json:"ticker"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Parse parses and validates a ticker string.
// Format: {BASE}-{QUOTE}, e.g. BTC-USD.
func Parse(ticker string) (*Symbol, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected BASE-QUOTE)", ErrInvalidTicker, ticker)
	}
	return &Symbol{
		Ticker: ticker,
		Base:   matches[1],
		Quote:  matches[2],
	}, nil
}
