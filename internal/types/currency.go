package types

import (
	"regexp"
	"strings"
)

// CURRENCY_CODES_SYMBOLS is a map of 3 digit ISO currency codes to their symbols
var CURRENCY_CODES_SYMBOLS = map[string]string{
	"RON": "lei",
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"CHF": "CHF",
	"HUF": "Ft",
	"PLN": "zł",
	"BGN": "лв",
}

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// GetCurrencySymbol returns the symbol for a given currency code
// if the code is not found, it returns the code itself
func GetCurrencySymbol(code string) string {
	if symbol, ok := CURRENCY_CODES_SYMBOLS[NormalizeCurrency(code)]; ok {
		return symbol
	}
	return code
}

// NormalizeCurrency upper-cases and trims a currency code
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCurrencyCode reports whether code looks like an ISO 4217 alpha code
func IsValidCurrencyCode(code string) bool {
	return currencyCodePattern.MatchString(NormalizeCurrency(code))
}
