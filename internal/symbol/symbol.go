// Package symbol handles currency-code and trading-pair validation for
// the balance engine's external surfaces.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidCurrency = errors.New("symbol: invalid currency code")
	ErrInvalidPair     = errors.New("symbol: invalid trading pair")
)

// currencyRegex matches short uppercase currency codes such as "BTC",
// "USDT" or "1INCH": 2–10 uppercase letters/digits, at least one letter.
var currencyRegex = regexp.MustCompile(`^[0-9]*[A-Z][A-Z0-9]{0,9}$`)

// Pair is a parsed trading pair, e.g. "BTC/USDT".
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// NormalizeCurrency uppercases and validates a currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) < 2 || len(c) > 10 || !currencyRegex.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return c, nil
}

// ParsePair parses a trading pair in "BASE/QUOTE" or "BASE-QUOTE" form.
// Both legs must be valid currency codes and must differ.
func ParsePair(s string) (Pair, error) {
	raw := strings.TrimSpace(s)
	sep := "/"
	if !strings.Contains(raw, "/") && strings.Contains(raw, "-") {
		sep = "-"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: %q (expected BASE/QUOTE)", ErrInvalidPair, s)
	}
	base, err := NormalizeCurrency(parts[0])
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	quote, err := NormalizeCurrency(parts[1])
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	if base == quote {
		return Pair{}, fmt.Errorf("%w: %q (legs must differ)", ErrInvalidPair, s)
	}
	return Pair{Base: base, Quote: quote}, nil
}
