package posclient

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ToCents converts a decimal-like display string into integer cents. Grouping
// separators and surrounding whitespace are stripped, the magnitude is rounded
// to the nearest cent. Non-numeric or empty input yields 0: this is a display
// and validation helper, not a parser of trusted data, so it never fails.
//
// All monetary comparisons in this module go through integer cents; floating
// point equality is never used for money.
func ToCents(input string) int64 {
	s := strings.TrimSpace(input)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// CentsToDecimalString renders integer cents as a two-decimal display string.
func CentsToDecimalString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// SumCents returns the integer sum of the given cent amounts.
func SumCents(amounts []int64) int64 {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return total
}
