package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatPKR renders an amount the way vouchers print it: "PKR 1,250,000.00".
func FormatPKR(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}

	var b strings.Builder
	b.WriteString("PKR ")
	if d.IsNegative() && !d.Round(2).IsZero() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}
