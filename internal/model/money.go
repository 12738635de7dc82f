package model

import (
	"math"
	"strconv"
)

// ParseCents converts decimal string amounts (major units) to minor units.
// Product prices come back as "19.99" or 19.99; both land here.
// Examples: "99.00" → 9900, "1234.56" → 123456, "" → 0
func ParseCents(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	// math.Round handles both positive and negative numbers correctly
	return int64(math.Round(f * 100))
}

// LineSubtotal is price × quantity in minor units.
func LineSubtotal(p *Product, quantity int) int64 {
	if p == nil {
		return 0
	}
	return p.Price * int64(quantity)
}
