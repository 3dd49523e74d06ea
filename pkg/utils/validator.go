package utils

import (
	"errors"
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidateSymbol checks that a pair or currency symbol is uppercase
// alphanumeric, matching the wire-format conventions of exchange pair
// catalogs (spec §4.1 bootstrap).
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return errors.New("symbol must be 2-10 uppercase alphanumeric characters")
	}
	return nil
}

// ValidateCycleLegs checks that a candidate cycle length falls within
// spec §4.3's supported range (length 3 or 4, start == end).
func ValidateCycleLegs(currencies []string) error {
	n := len(currencies)
	if n != 4 && n != 5 {
		return errors.New("cycle must have 3 or 4 legs (4 or 5 currencies including the closing repeat)")
	}
	if currencies[0] != currencies[n-1] {
		return errors.New("cycle must start and end at the same currency")
	}
	return nil
}

// ValidateTradeAmount checks a trade amount against the enum spec §6
// requires (one of the configured presets, enforced by config.Validate;
// this only checks the bare positivity invariant for ad-hoc callers).
func ValidateTradeAmount(amount float64) error {
	if amount <= 0 {
		return errors.New("trade amount must be positive")
	}
	return nil
}

// ValidateAPIKey performs a shape check before the key is handed to
// pkg/crypto for at-rest encryption: non-empty, no surrounding
// whitespace, no embedded newlines (a common copy-paste mistake that
// corrupts HMAC signing silently).
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("api key must not be empty")
	}
	if key != strings.TrimSpace(key) {
		return errors.New("api key must not have leading or trailing whitespace")
	}
	if strings.ContainsAny(key, "\n\r\t") {
		return errors.New("api key must not contain whitespace control characters")
	}
	return nil
}

// ValidatePct checks a percentage value expressed as a fraction
// (0.01 == 1%) falls within [min, max].
func ValidatePct(value, min, max float64) error {
	if value < min || value > max {
		return errors.New("percentage out of allowed range")
	}
	return nil
}
