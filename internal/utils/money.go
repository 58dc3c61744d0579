package utils

import "github.com/shopspring/decimal"

// FormatMinor renders an amount in paise as rupees with two decimals, e.g. 100050 -> "1000.50"
func FormatMinor(paise int64) string {
	return decimal.New(paise, -2).StringFixed(2)
}

// ParseMinor parses a rupee amount such as "1000.5" into paise. Sub-paisa precision is rejected.
func ParseMinor(s string) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, false
	}
	return shifted.IntPart(), true
}
