package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/pkg/errors"
)

var amountPattern = regexp.MustCompile(
	`(?i)([$€£¥])?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(trillion|billion|million|thousand|tn|bn|mn|[tbmk])?\.?\s*(usd|eur|gbp|jpy|dollars?|euros?|pounds?)?`)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

var currencyWords = map[string]string{
	"usd": "USD", "dollar": "USD", "dollars": "USD",
	"eur": "EUR", "euro": "EUR", "euros": "EUR",
	"gbp": "GBP", "pound": "GBP", "pounds": "GBP",
	"jpy": "JPY",
}

var magnitudes = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "mn": 1e6, "million": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9,
	"t": 1e12, "tn": 1e12, "trillion": 1e12,
}

// ParseAmount extracts a monetary amount from free text, e.g. "$1.2 billion"
// or "450 million EUR". The first number carrying a currency marker wins;
// bare numbers such as years are skipped. It fails when no number in the text
// carries a marker.
func ParseAmount(text string) (*graph.Amount, error) {
	matches := amountPattern.FindAllStringSubmatch(strings.TrimSpace(text), -1)
	for _, match := range matches {
		if match[2] == "" {
			continue
		}
		currency := currencySymbols[match[1]]
		if currency == "" {
			currency = currencyWords[strings.ToLower(match[4])]
		}
		if currency == "" {
			continue
		}

		value, err := strconv.ParseFloat(strings.ReplaceAll(match[2], ",", ""), 64)
		if err != nil {
			continue
		}
		if mult, ok := magnitudes[strings.ToLower(match[3])]; ok {
			value *= mult
		}
		if value < 0 || value > math.MaxInt64 {
			return nil, errors.Errorf("amount out of range in %q", text)
		}
		return &graph.Amount{Currency: currency, Value: int64(math.Round(value))}, nil
	}
	return nil, errors.Errorf("no currency marker in %q", text)
}
