// Package money turns the free-form price text typed into the catalog form
// into decimals and renders decimals back for reports.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidPrice = errors.New("invalid price")

// Parse sanitises a price string such as "Rp 12.500", "$1,234.50" or
// "12,5" and returns it rounded to two places.
//
// When both ',' and '.' appear the right-most one is the decimal separator.
// A separator that repeats, or a lone separator followed by exactly three
// digits, groups thousands. Any other lone separator marks decimals.
func Parse(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidPrice
	}
	if strings.ContainsAny(trimmed, "-(") {
		return decimal.Zero, ErrInvalidPrice
	}

	var b strings.Builder
	digits := 0
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune(r)
		}
	}
	if digits == 0 {
		return decimal.Zero, ErrInvalidPrice
	}

	normalized, err := normalizeSeparators(b.String())
	if err != nil {
		return decimal.Zero, err
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, ErrInvalidPrice
	}
	return d.Round(2), nil
}

func normalizeSeparators(s string) (string, error) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	if lastComma >= 0 && lastDot >= 0 {
		decimalSep, groupSep := ".", ","
		if lastComma > lastDot {
			decimalSep, groupSep = ",", "."
		}
		if strings.Count(s, decimalSep) > 1 {
			return "", ErrInvalidPrice
		}
		s = strings.ReplaceAll(s, groupSep, "")
		return withLeadingZero(strings.Replace(s, decimalSep, ".", 1)), nil
	}

	sep := ""
	idx := -1
	switch {
	case lastComma >= 0:
		sep, idx = ",", lastComma
	case lastDot >= 0:
		sep, idx = ".", lastDot
	default:
		return s, nil
	}

	if strings.Count(s, sep) > 1 || len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, ""), nil
	}
	return withLeadingZero(strings.Replace(s, sep, ".", 1)), nil
}

func withLeadingZero(s string) string {
	if strings.HasPrefix(s, ".") {
		return "0" + s
	}
	if strings.HasSuffix(s, ".") {
		return s + "0"
	}
	return s
}

// Format renders d with two decimals and comma thousands grouping, prefixed
// by symbol when one is given: Format(12500, "Rp") == "Rp 12,500.00".
func Format(d decimal.Decimal, symbol string) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	out := sign + grouped.String() + "." + fracPart
	if symbol == "" {
		return out
	}
	return symbol + " " + out
}
