// Package money converts between Stripe minor-unit amounts and display values.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies Stripe charges in whole units.
var zeroDecimal = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimal[strings.ToLower(strings.TrimSpace(currency))]
	return ok
}

func exponent(currency string) int32 {
	if IsZeroDecimal(currency) {
		return 0
	}
	return 2
}

// FromMinorUnits turns a minor-unit amount (cents for USD) into a decimal in major units.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-exponent(currency))
}

// ToMinorUnits converts a major-unit amount to the integer Stripe expects, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(exponent(currency)).Round(0).IntPart()
}

// FormatAmountForDisplay renders e.g. 1999 usd as "19.99 USD" and 500 jpy as "500 JPY".
func FormatAmountForDisplay(amount int64, currency string) string {
	exp := exponent(currency)
	value := FromMinorUnits(amount, currency).StringFixed(exp)
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return value
	}
	return fmt.Sprintf("%s %s", value, code)
}
