// Package core provides money parsing and handling utilities.
//
// Amounts are exact decimals. The textual form is kept with its own
// precision, so "10.50" sums with "0.25" to exactly "10.75".
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string into a positive exact amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// exponents, thousands separators and anything that is not a plain decimal
// number are rejected, as are zero values.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("0.001")  -> 0.001, nil
//	ParseAmount("-1")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "required"}
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	digits := 0
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) || r > unicode.MaxASCII {
				return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "not a number"}
			}
			digits++
		}
	}
	if digits == 0 {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return d, nil
}

// FormatAmount renders an amount with at least two fractional digits and
// never fewer than the amount carries.
func FormatAmount(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}
